// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
)

var (
	// ErrNotFound is returned when the catalog has no descriptor for a package
	// or the package repository does not exist.
	ErrNotFound = errors.New("package not found")
	// ErrRegistryUnreachable is returned for transport failures. It is the only
	// error Retrying retries.
	ErrRegistryUnreachable = errors.New("registry unreachable")
	// ErrVersionGone is returned when a listed version can no longer be fetched,
	// e.g. because its tag was deleted.
	ErrVersionGone = errors.New("version no longer available")
	// ErrInvalidSource is the sentinel error wrapped by InvalidSourceError.
	ErrInvalidSource = errors.New("invalid package source")
)

type (
	// Error describes a failed registry operation on one package.
	Error struct {
		Op      string
		Package manifest.PackageName
		Version string
		Err     error
	}

	// InvalidSourceError is returned when a source string is neither a git URL
	// nor a recognised shorthand.
	InvalidSourceError struct {
		Value  string
		Reason string
	}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteByte(' ')
	b.WriteString(string(e.Package))
	if e.Version != "" {
		b.WriteByte('@')
		b.WriteString(e.Version)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Error implements the error interface.
func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid package source %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidSource for errors.Is() compatibility.
func (e *InvalidSourceError) Unwrap() error { return ErrInvalidSource }

// unreachable tags err as transient while keeping its message.
func unreachable(err error) error {
	if errors.Is(err, ErrRegistryUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRegistryUnreachable, err)
}
