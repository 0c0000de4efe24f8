// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/runtimes"
	"github.com/lunekit/lunekit/pkg/bundle"
	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/modgraph"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/resolver"
	"github.com/lunekit/lunekit/pkg/store"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		want     int
		category issue.Category
	}{
		{"nil", nil, ExitOK, ""},
		{"plain", errors.New("boom"), ExitFailure, ""},
		{"explicit", &ExitError{Code: 7}, 7, ""},
		{"not found", fmt.Errorf("lookup: %w", registry.ErrNotFound), ExitResolution, issue.NotFound},
		{"unreachable", registry.ErrRegistryUnreachable, ExitResolution, issue.RegistryUnreachable},
		{"version gone", registry.ErrVersionGone, ExitResolution, issue.VersionGone},
		{"conflict", &resolver.ConflictError{Package: "a"}, ExitResolution, issue.ConflictingConstraints},
		{"no match", resolver.ErrNoMatchingVersion, ExitResolution, issue.NoMatchingVersion},
		{"fingerprint", store.ErrFingerprintMismatch, ExitInstall, issue.InstallFailed},
		// An install that failed because the registry was down reports the registry.
		{"install unreachable", fmt.Errorf("%w: %w", store.ErrInstall, registry.ErrRegistryUnreachable), ExitResolution, issue.RegistryUnreachable},
		{"unresolved", &modgraph.GraphError{Module: "main.luau", Err: modgraph.ErrUnresolvedRequire}, ExitGraph, issue.GraphFailed},
		{"cycle", modgraph.ErrCycle, ExitGraph, issue.GraphFailed},
		{"outside project", &modgraph.GraphError{Path: "/elsewhere/x.luau", Err: modgraph.ErrOutsideProject}, ExitGraph, issue.GraphFailed},
		{"graph read", &modgraph.GraphError{Module: "main.luau", Err: fmt.Errorf("read main.luau: %w", os.ErrPermission)}, ExitGraph, issue.GraphFailed},
		{"missing module", fmt.Errorf("%w: lib/x.luau", bundle.ErrMissingModule), ExitGraph, issue.GraphFailed},
		{"target", &runtimes.UnsupportedTargetError{Target: "plan9-mips"}, ExitUnsupported, issue.UnsupportedTarget},
		{"manifest", manifest.ErrManifestNotFound, ExitFailure, issue.InvalidManifest},
		{"wrapped", issue.WrapWithContext(resolver.ErrNoMatchingVersion, "install packages", "."), ExitResolution, issue.NoMatchingVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
			c, ok := classify(tt.err)
			if ok != (tt.category != "") || c.category != tt.category {
				t.Errorf("classify() = %q, %v, want %q", c.category, ok, tt.category)
			}
		})
	}
}

func TestRenderError(t *testing.T) {
	t.Parallel()

	t.Run("category suggestions fill an actionable error", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		err := issue.WrapWithContext(fmt.Errorf("discord: %w", resolver.ErrNoMatchingVersion), "install packages", "/game")
		renderError(&buf, err, false)
		out := buf.String()
		for _, want := range []string{
			"Error [no-matching-version]:",
			"failed to install packages: /game",
			"without a constraint",
			"lunekit explain no-matching-version",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
		var ae *issue.ActionableError
		if !errors.As(err, &ae) || len(ae.Suggestions) != 0 {
			t.Error("renderError mutated the error's suggestions")
		}
	})

	t.Run("own suggestions win", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		err := issue.NewErrorContext().
			WithOperation("load manifest").
			WithSuggestion("Fix the TOML").
			Wrap(manifest.ErrInvalidManifest).
			BuildError()
		renderError(&buf, err, true)
		out := buf.String()
		if !strings.Contains(out, "Fix the TOML") || strings.Contains(out, "lunekit init") {
			t.Errorf("output:\n%s", out)
		}
		if !strings.Contains(out, "Error chain:") {
			t.Errorf("verbose output lacks the error chain:\n%s", out)
		}
	})

	t.Run("unknown error", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		renderError(&buf, errors.New("boom"), false)
		if out := buf.String(); !strings.HasPrefix(out, "Error: boom") || strings.Contains(out, "explain") {
			t.Errorf("output = %q", out)
		}
	})
}
