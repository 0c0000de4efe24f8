// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

var defaultPatterns = []string{
	"**/*.luau",
	"**/*.lua",
	"lunekit.toml",
	"lunekit.lock.cue",
	".luaurc",
}

// Vendored packages, VCS data and editor droppings never trigger a rebuild.
var defaultIgnores = []string{
	"**/.git/**",
	"**/lune_packages/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// DefaultPatterns returns the sources a project build depends on.
func DefaultPatterns() []string { return slices.Clone(defaultPatterns) }

// DefaultIgnores returns the built-in ignore patterns.
func DefaultIgnores() []string { return slices.Clone(defaultIgnores) }

type filter struct {
	patterns []string
	ignores  []string
}

func newFilter(patterns, ignores []string) (*filter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch: invalid pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	for _, p := range ignores {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	return &filter{patterns: patterns, ignores: ignores}, nil
}

func (f *filter) selected(rel string) bool { return matchAny(f.patterns, rel) }

func (f *filter) ignored(rel string) bool { return matchAny(f.ignores, rel) }

// ignoredDir reports whether everything below rel is ignored, so the
// directory need not be watched at all.
func (f *filter) ignoredDir(rel string) bool {
	return matchAny(f.ignores, rel) || matchAny(f.ignores, rel+"/")
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}
