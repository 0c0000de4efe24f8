// SPDX-License-Identifier: MPL-2.0

// Package semver parses semantic versions taken from git tags and the
// version constraints attached to dependencies.
//
// Precedence follows SemVer 2.0 and is delegated to golang.org/x/mod/semver.
// Constraints normalize to a single interval so that two constraints can be
// intersected exactly when the resolver merges requirements coming from
// different requirers.
package semver
