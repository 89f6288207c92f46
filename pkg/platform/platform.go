// Package platform defines the Platform adapter contract of spec.md §4.6:
// given a resource name, return an enumerable list of fetchable sources
// with stable revisions.
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fetch/pkg/types"
)

// SourceSpec describes one fetchable unit resolved from a resource name.
// pkg/resource turns each SourceSpec into a pkg/source.Source.
type SourceSpec struct {
	Name            string
	URL             string
	Kind            types.SourceKind
	StripComponents int
	Revision        string
	MTime           time.Time
	HasMTime        bool
	Trusted         bool
}

// Platform resolves a resource name's scheme-specific body into a
// resolved list of sources, each with a stable revision.
type Platform interface {
	Sources(ctx context.Context, resourceName, resourceID string) ([]*SourceSpec, error)
}

var registry = map[string]Platform{}

// Register adds a Platform to the fixed scheme registry (spec.md §9:
// avoid dynamic module loading).
func Register(scheme string, p Platform) {
	registry[scheme] = p
}

// Get looks up the Platform registered for scheme.
func Get(scheme string) (Platform, bool) {
	p, ok := registry[scheme]
	return p, ok
}

// ParseName splits "<scheme>://<scheme-specific>" into its two parts.
func ParseName(name string) (scheme, rest string, err error) {
	i := strings.Index(name, "://")
	if i < 0 {
		return "", "", fmt.Errorf("resource name %q has no scheme", name)
	}
	return name[:i], name[i+3:], nil
}
