// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxPackageNameLength bounds package names so they stay usable as
// directory names in the package store.
const MaxPackageNameLength = 128

var (
	// ErrInvalidPackageName is the sentinel error wrapped by InvalidPackageNameError.
	ErrInvalidPackageName = errors.New("invalid package name")

	packageNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

type (
	// PackageName identifies a package within the registry namespace.
	// It must start with a letter followed by letters, digits, '_' or '-'.
	PackageName string

	// InvalidPackageNameError is returned when a PackageName fails validation.
	InvalidPackageNameError struct {
		Value PackageName
	}
)

// Error implements the error interface.
func (e *InvalidPackageNameError) Error() string {
	return fmt.Sprintf("invalid package name %q (must start with a letter and contain only letters, digits, '_' or '-')", e.Value)
}

// Unwrap returns ErrInvalidPackageName for errors.Is() compatibility.
func (e *InvalidPackageNameError) Unwrap() error { return ErrInvalidPackageName }

// Validate returns an error if the name is not a valid package name.
func (n PackageName) Validate() error {
	if len(n) == 0 || len(n) > MaxPackageNameLength || !packageNameRegex.MatchString(string(n)) {
		return &InvalidPackageNameError{Value: n}
	}
	return nil
}

// String returns the name as a string.
func (n PackageName) String() string { return string(n) }
