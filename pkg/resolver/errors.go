// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/semver"
)

var (
	// ErrConflictingConstraints is the sentinel error wrapped by ConflictError.
	ErrConflictingConstraints = errors.New("conflicting version constraints")
	// ErrNoMatchingVersion is the sentinel error wrapped by NoMatchError.
	ErrNoMatchingVersion = errors.New("no matching version")
	// ErrUnstableResolution is returned when the selection keeps changing
	// after the iteration limit.
	ErrUnstableResolution = errors.New("resolution did not converge")
)

type (
	// Requirement is one constraint on a package and who imposed it.
	Requirement struct {
		Constraint semver.Constraint
		// Requirer is the package that declared the dependency, or "" for the
		// project manifest.
		Requirer manifest.PackageName
	}

	// ConflictError reports two requirements on Package with no common version.
	ConflictError struct {
		Package manifest.PackageName
		A, B    Requirement
	}

	// NoMatchError reports a package whose combined constraint matches none
	// of the published versions.
	NoMatchError struct {
		Package      manifest.PackageName
		Constraint   string
		Requirements []Requirement
		Available    []semver.Version
	}
)

// RequirerName renders the requirer for messages.
func (r Requirement) RequirerName() string {
	if r.Requirer == "" {
		return manifest.FileName
	}
	return string(r.Requirer)
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s (from %s)", r.Constraint, r.RequirerName())
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s conflicts with %s", e.Package, e.A, e.B)
}

// Unwrap returns ErrConflictingConstraints for errors.Is() compatibility.
func (e *ConflictError) Unwrap() error { return ErrConflictingConstraints }

// Error implements the error interface.
func (e *NoMatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: no version satisfies %s", e.Package, e.Constraint)
	if len(e.Requirements) > 0 {
		reqs := make([]string, len(e.Requirements))
		for i, r := range e.Requirements {
			reqs[i] = r.String()
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(reqs, ", "))
	}
	switch n := len(e.Available); {
	case n == 0:
		b.WriteString("; no versions are published")
	case n <= 5:
		vs := make([]string, n)
		for i, v := range e.Available {
			vs[i] = v.String()
		}
		fmt.Fprintf(&b, "; available: %s", strings.Join(vs, ", "))
	default:
		fmt.Fprintf(&b, "; newest of %d available: %s", n, e.Available[0])
	}
	return b.String()
}

// Unwrap returns ErrNoMatchingVersion for errors.Is() compatibility.
func (e *NoMatchError) Unwrap() error { return ErrNoMatchingVersion }
