// SPDX-License-Identifier: MPL-2.0

package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidConstraint is the sentinel error wrapped by InvalidConstraintError.
var ErrInvalidConstraint = errors.New("invalid version constraint")

var (
	comparatorRegex = regexp.MustCompile(`^(>=|<=|>|<|=|\^|~>|~)?v?(.+)$`)
	partialRegex    = regexp.MustCompile(`^(\*|[xX]|0|[1-9]\d*)(?:\.(\*|[xX]|0|[1-9]\d*))?(?:\.(\*|[xX]|0|[1-9]\d*))?(?:-([0-9A-Za-z\-]+(?:\.[0-9A-Za-z\-]+)*))?(?:\+[0-9A-Za-z\-.]+)?$`)
)

type (
	// Constraint is a predicate over versions. Every constraint normalizes to a
	// single interval with optional bounds, which makes intersection exact.
	//
	// Supported syntax: exact ("1.2.3", "=1.2.3"), caret ("^1.2"), tilde
	// ("~1.2.3"), wildcards ("*", "1.x", "1.2.*", "1.2"), and comparators
	// (">=1.0 <2.0", ">=1.0, <2.0"). Comparators in one string are ANDed.
	Constraint struct {
		raw string
		lo  bound
		hi  bound
		// pre lists the major.minor.patch tuples whose prereleases may match.
		pre []Version
	}

	bound struct {
		v         Version
		inclusive bool
		set       bool
	}

	// InvalidConstraintError is returned when a constraint string cannot be parsed.
	InvalidConstraintError struct {
		Value  string
		Reason string
	}

	partial struct {
		major, minor, patch uint64
		// n counts the numeric components given: 0 for "*", 3 for "1.2.3".
		n   int
		pre string
	}
)

// Error implements the error interface.
func (e *InvalidConstraintError) Error() string {
	return fmt.Sprintf("invalid version constraint %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidConstraint for errors.Is() compatibility.
func (e *InvalidConstraintError) Unwrap() error { return ErrInvalidConstraint }

// Any returns the constraint satisfied by every release version.
func Any() Constraint { return Constraint{raw: "*"} }

// Exact returns a constraint matching exactly v.
func Exact(v Version) Constraint {
	c := Constraint{
		raw: v.String(),
		lo:  bound{v: v, inclusive: true, set: true},
		hi:  bound{v: v, inclusive: true, set: true},
	}
	if v.IsPrerelease() {
		c.pre = []Version{v}
	}
	return c
}

// Caret returns the "^v" constraint string for v, used when recording a
// freshly added dependency.
func Caret(v Version) string { return "^" + v.String() }

// ParseConstraint parses a constraint string.
func ParseConstraint(s string) (Constraint, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Constraint{}, &InvalidConstraintError{Value: s, Reason: "empty"}
	}
	if strings.Contains(raw, "||") {
		return Constraint{}, &InvalidConstraintError{Value: s, Reason: "alternatives (||) are not supported"}
	}

	tokens := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	// Re-attach operators written with a space before the version, e.g. ">= 1.2".
	var comparators []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if isOperator(tok) && i+1 < len(tokens) {
			tok += tokens[i+1]
			i++
		}
		comparators = append(comparators, tok)
	}

	c := Constraint{raw: raw}
	for _, comp := range comparators {
		part, err := parseComparator(comp)
		if err != nil {
			return Constraint{}, &InvalidConstraintError{Value: s, Reason: err.Error()}
		}
		c.lo = maxLower(c.lo, part.lo)
		c.hi = minUpper(c.hi, part.hi)
		c.pre = append(c.pre, part.pre...)
	}
	return c, nil
}

// MustParseConstraint is like ParseConstraint but panics on error.
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the constraint as written.
func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

// IsAny reports whether the constraint has no bounds.
func (c Constraint) IsAny() bool { return !c.lo.set && !c.hi.set }

// Empty reports whether no version can satisfy the constraint.
func (c Constraint) Empty() bool {
	if !c.lo.set || !c.hi.set {
		return false
	}
	cmp := Compare(c.lo.v, c.hi.v)
	return cmp > 0 || (cmp == 0 && !(c.lo.inclusive && c.hi.inclusive))
}

// Satisfies reports whether v satisfies the constraint. Prerelease versions
// only match when a comparator names a prerelease of the same major.minor.patch.
func (c Constraint) Satisfies(v Version) bool {
	if c.lo.set {
		cmp := Compare(v, c.lo.v)
		if cmp < 0 || (cmp == 0 && !c.lo.inclusive) {
			return false
		}
	}
	if c.hi.set {
		cmp := Compare(v, c.hi.v)
		if cmp > 0 || (cmp == 0 && !c.hi.inclusive) {
			return false
		}
	}
	if v.IsPrerelease() {
		for _, p := range c.pre {
			if p.sameTuple(v) {
				return true
			}
		}
		return false
	}
	return true
}

// Best returns the greatest version in vs that satisfies c.
func (c Constraint) Best(vs []Version) (Version, bool) {
	var (
		best  Version
		found bool
	)
	for _, v := range vs {
		if !c.Satisfies(v) {
			continue
		}
		if !found || Compare(v, best) > 0 {
			best, found = v, true
		}
	}
	return best, found
}

// Intersect returns the constraint satisfied exactly by versions satisfying
// both a and b. The boolean is false when the intersection is empty.
func Intersect(a, b Constraint) (Constraint, bool) {
	out := Constraint{
		raw: a.String() + ", " + b.String(),
		lo:  maxLower(a.lo, b.lo),
		hi:  minUpper(a.hi, b.hi),
	}
	for _, p := range a.pre {
		for _, q := range b.pre {
			if p.sameTuple(q) {
				out.pre = append(out.pre, p)
				break
			}
		}
	}
	if out.Empty() {
		return out, false
	}
	return out, true
}

func isOperator(s string) bool {
	switch s {
	case ">=", "<=", ">", "<", "=", "^", "~", "~>":
		return true
	}
	return false
}

func parseComparator(s string) (Constraint, error) {
	m := comparatorRegex.FindStringSubmatch(s)
	if m == nil {
		return Constraint{}, fmt.Errorf("malformed comparator %q", s)
	}
	op := m[1]
	p, err := parsePartial(m[2])
	if err != nil {
		return Constraint{}, err
	}

	floor := p.floor()
	var c Constraint
	switch op {
	case "", "=":
		if p.n == 3 {
			return Exact(floor), nil
		}
		if p.n > 0 {
			c.lo = bound{v: floor, inclusive: true, set: true}
			c.hi = bound{v: p.ceil(), set: true}
		}
	case "^":
		if p.n == 0 {
			break
		}
		c.lo = bound{v: floor, inclusive: true, set: true}
		var hi Version
		switch {
		case p.major > 0:
			hi = Version{Major: p.major + 1}
		case p.n == 1:
			hi = Version{Major: 1}
		case p.minor > 0:
			hi = Version{Minor: p.minor + 1}
		case p.n == 2:
			hi = Version{Minor: 1}
		default:
			hi = Version{Patch: p.patch + 1}
		}
		c.hi = bound{v: hi, set: true}
	case "~", "~>":
		if p.n == 0 {
			break
		}
		c.lo = bound{v: floor, inclusive: true, set: true}
		if p.n == 1 {
			c.hi = bound{v: Version{Major: p.major + 1}, set: true}
		} else {
			c.hi = bound{v: Version{Major: p.major, Minor: p.minor + 1}, set: true}
		}
	case ">=":
		if p.n > 0 {
			c.lo = bound{v: floor, inclusive: true, set: true}
		}
	case ">":
		switch p.n {
		case 0:
			return Constraint{}, fmt.Errorf("%q matches no version", s)
		case 3:
			c.lo = bound{v: floor, set: true}
		default:
			c.lo = bound{v: p.ceil(), inclusive: true, set: true}
		}
	case "<":
		if p.n == 0 {
			return Constraint{}, fmt.Errorf("%q matches no version", s)
		}
		c.hi = bound{v: floor, set: true}
	case "<=":
		switch p.n {
		case 0:
		case 3:
			c.hi = bound{v: floor, inclusive: true, set: true}
		default:
			c.hi = bound{v: p.ceil(), set: true}
		}
	}
	if p.pre != "" {
		c.pre = []Version{floor}
	}
	return c, nil
}

func parsePartial(s string) (partial, error) {
	m := partialRegex.FindStringSubmatch(s)
	if m == nil {
		return partial{}, fmt.Errorf("malformed version %q", s)
	}
	var p partial
	wild := false
	for i, part := range m[1:4] {
		if part == "" || part == "*" || part == "x" || part == "X" {
			wild = true
			continue
		}
		if wild {
			return partial{}, fmt.Errorf("version %q has a number after a wildcard", s)
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return partial{}, fmt.Errorf("version %q: %w", s, err)
		}
		switch i {
		case 0:
			p.major = n
		case 1:
			p.minor = n
		case 2:
			p.patch = n
		}
		p.n++
	}
	if m[4] != "" {
		if p.n != 3 {
			return partial{}, fmt.Errorf("prerelease requires a full version in %q", s)
		}
		p.pre = m[4]
	}
	return p, nil
}

// floor is the smallest version matched by the partial.
func (p partial) floor() Version {
	return Version{Major: p.major, Minor: p.minor, Patch: p.patch, Prerelease: p.pre}
}

// ceil is the exclusive upper bound of a partial used as a wildcard.
func (p partial) ceil() Version {
	switch p.n {
	case 1:
		return Version{Major: p.major + 1}
	case 2:
		return Version{Major: p.major, Minor: p.minor + 1}
	default:
		return Version{Major: p.major, Minor: p.minor, Patch: p.patch + 1}
	}
}

func maxLower(a, b bound) bound {
	switch {
	case !a.set:
		return b
	case !b.set:
		return a
	}
	cmp := Compare(a.v, b.v)
	switch {
	case cmp > 0:
		return a
	case cmp < 0:
		return b
	}
	return bound{v: a.v, inclusive: a.inclusive && b.inclusive, set: true}
}

func minUpper(a, b bound) bound {
	switch {
	case !a.set:
		return b
	case !b.set:
		return a
	}
	cmp := Compare(a.v, b.v)
	switch {
	case cmp < 0:
		return a
	case cmp > 0:
		return b
	}
	return bound{v: a.v, inclusive: a.inclusive && b.inclusive, set: true}
}
