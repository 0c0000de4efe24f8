// SPDX-License-Identifier: MPL-2.0

package modgraph

import (
	"errors"
	"fmt"
	"strings"
)

// Cycle policies.
const (
	CyclesAllow CyclePolicy = "allow"
	CyclesWarn  CyclePolicy = "warn"
	CyclesError CyclePolicy = "error"
)

// Unresolved-require policies.
const (
	UnresolvedWarn  UnresolvedPolicy = "warn"
	UnresolvedError UnresolvedPolicy = "error"
)

// Diagnostic severities.
const (
	SeverityWarning Severity = iota
	SeverityError
)

var (
	// ErrGraph is matched by every GraphError, whatever its cause.
	ErrGraph = errors.New("module graph error")
	// ErrUnresolvedRequire is returned when a require cannot be resolved and
	// the unresolved policy is "error".
	ErrUnresolvedRequire = errors.New("unresolved require")
	// ErrCycle is returned for an eager require cycle when the cycle policy
	// is "error".
	ErrCycle = errors.New("require cycle")
	// ErrOutsideProject is returned for a module that lies outside the
	// project root and outside every package.
	ErrOutsideProject = errors.New("module outside project and packages")
	// ErrInvalidPolicy is the sentinel for InvalidPolicyError.
	ErrInvalidPolicy = errors.New("invalid policy")
)

type (
	// CyclePolicy controls how eager require cycles are reported.
	CyclePolicy string

	// UnresolvedPolicy controls how unresolvable requires are reported.
	UnresolvedPolicy string

	// Severity of a Diagnostic.
	Severity int

	// InvalidPolicyError reports an unknown policy value.
	InvalidPolicyError struct {
		Kind  string
		Value string
	}

	// Diagnostic is a non-fatal finding about the graph.
	Diagnostic struct {
		Severity Severity
		Module   string
		Line     int
		Spec     string
		Message  string
	}

	// GraphError is a fatal graph problem. Cycle is set for cycle errors.
	GraphError struct {
		Module string
		Path   string
		Line   int
		Spec   string
		Cycle  []string
		Err    error
	}
)

// Error implements the error interface.
func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid %s policy %q", e.Kind, e.Value)
}

// Unwrap returns ErrInvalidPolicy for errors.Is() compatibility.
func (e *InvalidPolicyError) Unwrap() error { return ErrInvalidPolicy }

// Validate returns an error if p is not a known cycle policy. The empty
// value means the default.
func (p CyclePolicy) Validate() error {
	switch p {
	case "", CyclesAllow, CyclesWarn, CyclesError:
		return nil
	}
	return &InvalidPolicyError{Kind: "cycle", Value: string(p)}
}

// Validate returns an error if p is not a known unresolved policy. The empty
// value means the default.
func (p UnresolvedPolicy) Validate() error {
	switch p {
	case "", UnresolvedWarn, UnresolvedError:
		return nil
	}
	return &InvalidPolicyError{Kind: "unresolved", Value: string(p)}
}

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

func (d Diagnostic) String() string {
	loc := d.Module
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", d.Module, d.Line)
	}
	return fmt.Sprintf("%s: %s: %s", loc, d.Severity, d.Message)
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Cycle, " -> "))
	}
	loc := e.Module
	if loc == "" {
		loc = e.Path
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Spec != "" {
		return fmt.Sprintf("%s: require(%q): %v", loc, e.Spec, e.Err)
	}
	return fmt.Sprintf("%s: %v", loc, e.Err)
}

// Unwrap returns ErrGraph and the underlying error, so errors.Is() matches
// both the graph category and the specific cause.
func (e *GraphError) Unwrap() []error { return []error{ErrGraph, e.Err} }
