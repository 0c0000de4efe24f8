// SPDX-License-Identifier: MPL-2.0

package project

import (
	"errors"
	"fmt"

	"github.com/lunekit/lunekit/pkg/manifest"
)

var (
	// ErrAlreadyInitialized is returned by Init when a manifest exists.
	ErrAlreadyInitialized = errors.New("project already initialized")
	// ErrInvalidSpec is the sentinel error wrapped by InvalidSpecError.
	ErrInvalidSpec = errors.New("invalid package spec")
	// ErrNotDependency is returned by Update for a name the manifest does
	// not declare.
	ErrNotDependency = errors.New("not a dependency")
	// ErrNoReleases is returned when a package has no installable release.
	ErrNoReleases = errors.New("no releases")
)

type (
	// InvalidSpecError reports a malformed "name[@constraint]" argument.
	InvalidSpecError struct {
		Spec string
		Err  error
	}

	// NotDependencyError names the unknown package passed to Update.
	NotDependencyError struct {
		Name manifest.PackageName
	}
)

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("package spec %q: %v", e.Spec, e.Err)
}

// Unwrap returns ErrInvalidSpec and the cause.
func (e *InvalidSpecError) Unwrap() []error { return []error{ErrInvalidSpec, e.Err} }

func (e *NotDependencyError) Error() string {
	return fmt.Sprintf("%s is not a dependency of this project", e.Name)
}

// Unwrap returns ErrNotDependency.
func (e *NotDependencyError) Unwrap() error { return ErrNotDependency }
