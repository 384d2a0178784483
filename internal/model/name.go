package model

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/prevant-go/prevant/internal/apperr"
)

// AppName identifies a review application. Any non-empty string is valid as
// long as it contains no whitespace or forward slash, since both appear as
// path/URL separators in the HTTP boundary and in container/service naming.
// Arbitrary Unicode is otherwise accepted.
type AppName string

// NewAppName validates raw and returns it as an AppName, or an
// apperr.KindInvalidAppName error naming every offending character found.
func NewAppName(raw string) (AppName, error) {
	var invalid []rune
	seen := make(map[rune]bool)
	for _, r := range raw {
		if unicode.IsSpace(r) || r == '/' {
			if !seen[r] {
				seen[r] = true
				invalid = append(invalid, r)
			}
		}
	}
	if len(invalid) > 0 {
		return "", apperr.InvalidAppName(raw, string(invalid))
	}
	return AppName(raw), nil
}

func (n AppName) String() string { return string(n) }

// ContainerPrefix returns the name component used when deriving container
// and resource names, since some backends further constrain the character
// set (e.g. DNS-label rules in Kubernetes).
func (n AppName) ContainerPrefix() string {
	return strings.ToLower(string(n))
}

// Validate re-checks an already constructed AppName, useful after
// round-tripping through storage.
func (n AppName) Validate() error {
	_, err := NewAppName(string(n))
	return err
}

func (n AppName) GoString() string {
	return fmt.Sprintf("AppName(%q)", string(n))
}
