// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/runtimes"
	"github.com/lunekit/lunekit/pkg/bundle"
	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/modgraph"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/resolver"
	"github.com/lunekit/lunekit/pkg/store"
)

// Exit codes by failure class.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitResolution  = 2
	ExitInstall     = 3
	ExitGraph       = 4
	ExitUnsupported = 5
)

// ExitError signals a specific exit code without calling os.Exit in RunE
// handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error { return e.Err }

type classification struct {
	category    issue.Category
	code        int
	suggestions []string
}

// classify maps err to its issue category and exit code. Registry and
// resolution causes are checked before the install wrapper so an install
// that failed on an unreachable registry reports the registry.
func classify(err error) (classification, bool) {
	switch {
	case errors.Is(err, registry.ErrVersionGone):
		return classification{issue.VersionGone, ExitResolution, []string{
			"Run 'lunekit update <name>' to re-resolve against the published tags",
		}}, true
	case errors.Is(err, registry.ErrRegistryUnreachable):
		return classification{issue.RegistryUnreachable, ExitResolution, []string{
			"Check your network connection and the registry location",
			"Set GITHUB_TOKEN or GIT_TOKEN for private repositories",
		}}, true
	case errors.Is(err, registry.ErrNotFound):
		return classification{issue.NotFound, ExitResolution, []string{
			"Check the package name for typos",
			"Declare a source: name = { version = \"^1.0\", source = \"github:owner/repo\" }",
		}}, true
	case errors.Is(err, resolver.ErrConflictingConstraints):
		return classification{issue.ConflictingConstraints, ExitResolution, []string{
			"Relax one of the conflicting constraints in lunekit.toml",
		}}, true
	case errors.Is(err, resolver.ErrNoMatchingVersion):
		return classification{issue.NoMatchingVersion, ExitResolution, []string{
			"Run 'lunekit install <name>' without a constraint to pin the latest release",
		}}, true
	case errors.Is(err, store.ErrFingerprintMismatch), errors.Is(err, store.ErrInstall):
		return classification{issue.InstallFailed, ExitInstall, []string{
			"Run 'lunekit store prune' and retry",
		}}, true
	case errors.Is(err, modgraph.ErrGraph), errors.Is(err, modgraph.ErrUnresolvedRequire),
		errors.Is(err, modgraph.ErrCycle), errors.Is(err, bundle.ErrMissingModule):
		return classification{issue.GraphFailed, ExitGraph, []string{
			"Set graph.unresolved or graph.cycles in config.cue to change the policy",
		}}, true
	case errors.Is(err, runtimes.ErrUnsupportedTarget):
		return classification{issue.UnsupportedTarget, ExitUnsupported, []string{
			"Place a runtime at <runtime.dir>/<target>/lune or configure runtime.repo",
		}}, true
	case errors.Is(err, manifest.ErrInvalidManifest), errors.Is(err, manifest.ErrManifestNotFound):
		return classification{issue.InvalidManifest, ExitFailure, []string{
			"Run 'lunekit init' to create lunekit.toml",
		}}, true
	}
	return classification{}, false
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if c, ok := classify(err); ok {
		return c.code
	}
	return ExitFailure
}

// renderError prints err with its category and suggestions. An
// ActionableError in the chain keeps its own suggestions.
func renderError(w io.Writer, err error, verbose bool) {
	c, known := classify(err)
	label := ErrorStyle.Render("Error:")
	if known {
		label = ErrorStyle.Render(fmt.Sprintf("Error [%s]:", c.category))
	}

	msg := err.Error()
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		if known && len(ae.Suggestions) == 0 {
			copied := *ae
			copied.Suggestions = c.suggestions
			ae = &copied
		}
		msg = ae.Format(verbose)
	}
	fmt.Fprintf(w, "%s %s\n", label, msg)
	if known {
		fmt.Fprintln(w, SubtitleStyle.Render(fmt.Sprintf("Run 'lunekit explain %s' for details.", c.category)))
	}
}
