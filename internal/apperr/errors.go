// Package apperr defines the stable error taxonomy shared by every core
// component (builder, queue, backends, crawler, orchestrator) and the HTTP
// boundary that maps these to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the stable error categories from the application's
// error taxonomy. HTTP handlers switch on Kind, not on the concrete type, so
// new detail fields can be added to an error without touching the mapping.
type Kind string

const (
	KindAppNotFound               Kind = "AppNotFound"
	KindAppInDeployment           Kind = "AppIsInDeployment"
	KindAppInDeletion             Kind = "AppIsInDeletion"
	KindInvalidAppName            Kind = "InvalidAppName"
	KindInvalidServiceConfig      Kind = "InvalidServiceConfig"
	KindInvalidTemplateFormat     Kind = "InvalidTemplateFormat"
	KindInvalidDeploymentHook     Kind = "InvalidDeploymentHook"
	KindInvalidUserDefinedParams  Kind = "InvalidUserDefinedParameters"
	KindImageNotFound             Kind = "ImageNotFound"
	KindRegistryAuthFailure       Kind = "RegistryAuthFailure"
	KindInfrastructureError       Kind = "InfrastructureError"
	KindInvalidServerConfig       Kind = "InvalidServerConfiguration"
)

// Error is the concrete error type carried through the system. It is
// serialized verbatim (Kind + Detail) by the task queue so a later poll
// returns the original failure rather than a generic one.
type Error struct {
	Kind   Kind
	Detail string
	// Wrapped is an optional underlying cause, kept for %w unwrapping but
	// never required for equality/serialization purposes.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is allows errors.Is(err, apperr.New(KindAppNotFound, "")) style matching on
// Kind alone, ignoring Detail/Wrapped.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs an Error of the given kind with a formatted detail message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind, preserving cause for Unwrap.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Wrapped: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, reporting ok=false
// otherwise. Callers needing an HTTP status fall back to InfrastructureError.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel constructors mirroring spec.md's taxonomy, for the common cases
// that carry a single identifying argument.

func AppNotFound(name string) *Error {
	return New(KindAppNotFound, "application %q not found", name)
}

func AppInDeployment(name string) *Error {
	return New(KindAppInDeployment, "application %q has an in-flight deployment task", name)
}

func AppInDeletion(name string) *Error {
	return New(KindAppInDeletion, "application %q has an in-flight deletion task", name)
}

func InvalidAppName(name string, invalidChars string) *Error {
	return New(KindInvalidAppName, "application name %q contains invalid characters: %q", name, invalidChars)
}

func InvalidServiceConfig(detail string) *Error {
	return New(KindInvalidServiceConfig, "%s", detail)
}

func InvalidTemplateFormat(detail string) *Error {
	return New(KindInvalidTemplateFormat, "%s", detail)
}

func InvalidDeploymentHook(detail string) *Error {
	return New(KindInvalidDeploymentHook, "%s", detail)
}

func InvalidUserDefinedParameters(detail string) *Error {
	return New(KindInvalidUserDefinedParams, "%s", detail)
}

func ImageNotFound(image string) *Error {
	return New(KindImageNotFound, "image %q not found in registry", image)
}

func RegistryAuthFailure(image string, detail string) *Error {
	return New(KindRegistryAuthFailure, "authentication failed for image %q: %s", image, detail)
}

func Infrastructure(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindInfrastructureError, cause, format, args...)
}

func InvalidServerConfiguration(detail string) *Error {
	return New(KindInvalidServerConfig, "%s", detail)
}
