// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	xsemver "golang.org/x/mod/semver"
)

// ErrInvalidVersion is the sentinel error wrapped by InvalidVersionError.
var ErrInvalidVersion = errors.New("invalid version")

// versionRegex matches a full major.minor.patch version with optional
// prerelease and build metadata. A leading "v" is accepted.
var versionRegex = regexp.MustCompile(`^v?(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-([0-9A-Za-z\-]+(?:\.[0-9A-Za-z\-]+)*))?(?:\+([0-9A-Za-z\-]+(?:\.[0-9A-Za-z\-]+)*))?$`)

type (
	// Version is a parsed semantic version. The zero value is 0.0.0.
	Version struct {
		Major      uint64
		Minor      uint64
		Patch      uint64
		Prerelease string
		Build      string
		// Original is the text the version was parsed from, e.g. a git tag "v1.2.3".
		Original string
	}

	// InvalidVersionError is returned when a string is not a full semantic version.
	InvalidVersionError struct {
		Value  string
		Reason string
	}
)

// Error implements the error interface.
func (e *InvalidVersionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid version %q: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid version %q", e.Value)
}

// Unwrap returns ErrInvalidVersion for errors.Is() compatibility.
func (e *InvalidVersionError) Unwrap() error { return ErrInvalidVersion }

// Parse parses a full semantic version such as "1.2.3", "v1.2.3" or
// "1.2.3-rc.1+build.5". Partial versions ("1.2") are rejected; use
// ParseConstraint for those.
func Parse(s string) (Version, error) {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, &InvalidVersionError{Value: s}
	}

	v := Version{Prerelease: m[4], Build: m[5], Original: s}
	var err error
	if v.Major, err = strconv.ParseUint(m[1], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s, Reason: "major out of range"}
	}
	if v.Minor, err = strconv.ParseUint(m[2], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s, Reason: "minor out of range"}
	}
	if v.Patch, err = strconv.ParseUint(m[3], 10, 64); err != nil {
		return Version{}, &InvalidVersionError{Value: s, Reason: "patch out of range"}
	}

	// x/mod/semver rejects numeric prerelease identifiers with leading zeros.
	if !xsemver.IsValid(v.canonical()) {
		return Version{}, &InvalidVersionError{Value: s, Reason: "malformed prerelease"}
	}
	return v, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the normalized form without the "v" prefix or build metadata.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	return s
}

// IsPrerelease reports whether the version carries a prerelease suffix.
func (v Version) IsPrerelease() bool { return v.Prerelease != "" }

// Equal reports whether two versions have the same precedence.
func (v Version) Equal(o Version) bool { return Compare(v, o) == 0 }

// sameTuple reports whether v and o share major.minor.patch.
func (v Version) sameTuple(o Version) bool {
	return v.Major == o.Major && v.Minor == o.Minor && v.Patch == o.Patch
}

// canonical renders the version in the form accepted by x/mod/semver.
func (v Version) canonical() string {
	return "v" + v.String()
}

// Compare returns -1, 0 or +1 following semantic version precedence.
// Build metadata is ignored.
func Compare(a, b Version) int {
	return xsemver.Compare(a.canonical(), b.canonical())
}

// SortDescending sorts versions newest first. Versions of equal precedence
// keep their relative order.
func SortDescending(vs []Version) {
	slices.SortStableFunc(vs, func(a, b Version) int { return Compare(b, a) })
}

// Max returns the greatest version in vs, or false if vs is empty.
func Max(vs []Version) (Version, bool) {
	if len(vs) == 0 {
		return Version{}, false
	}
	best := vs[0]
	for _, v := range vs[1:] {
		if Compare(v, best) > 0 {
			best = v
		}
	}
	return best, true
}
