// Package infra defines the Infrastructure Backend capability interface
// implemented by the docker, kube, and memory sub-packages.
package infra

import (
	"context"
	"net/http"
	"time"

	"github.com/prevant-go/prevant/internal/model"
)

// DeploymentUnit is the final, ordered list of services one deploy_services
// call reconciles, plus the resource limits to apply to each workload.
type DeploymentUnit struct {
	AppName         model.AppName
	Services        []model.DeployableService
	StatusChangeID  string
	MemoryLimit     string
}

// LogLine is one line of a service's log stream.
type LogLine struct {
	Timestamp time.Time
	Line      string
}

// LogOptions configures a GetLogs call.
type LogOptions struct {
	Since  time.Time
	Limit  int
	Follow bool
}

// Forwarder delivers an HTTP request to a running service instance via the
// backend's own network, without requiring the public ingress to be
// reachable from the calling process.
type Forwarder interface {
	Forward(ctx context.Context, app model.AppName, serviceName string, req *http.Request) (*http.Response, error)
}

// Route describes an ingress route's observable shape, returned by
// BaseTraefikIngressRoute for callers that need to compose it further.
type Route struct {
	PathPrefix string
}

// Backend is the capability interface the orchestrator drives. Exactly one
// implementation is active per process (docker, kube, or memory in tests).
type Backend interface {
	FetchApps(ctx context.Context) (map[model.AppName]model.App, error)
	FetchApp(ctx context.Context, name model.AppName) (*model.App, error)

	// DeployServices reconciles unit against the backend and returns the
	// observed post-reconcile App, read back rather than synthesized.
	DeployServices(ctx context.Context, unit DeploymentUnit) (model.App, error)

	// StopServices tears down every workload for name and returns the
	// final view observed just before teardown.
	StopServices(ctx context.Context, name model.AppName) (model.App, error)

	// ChangeStatus pauses or resumes one service. A nil Service with a nil
	// error means the service did not exist.
	ChangeStatus(ctx context.Context, app model.AppName, serviceName string, status model.ServiceStatus) (*model.Service, error)

	// GetLogs streams log lines for one service onto the returned channel,
	// closing it when the stream ends (non-follow) or ctx is cancelled.
	GetLogs(ctx context.Context, app model.AppName, serviceName string, opts LogOptions) (<-chan LogLine, error)

	HTTPForwarder() Forwarder
	BaseTraefikIngressRoute(ctx context.Context) (*Route, error)
}
