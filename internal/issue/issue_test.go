// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	i, err := Lookup("conflicting-constraints")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if i.Category() != ConflictingConstraints || i.Title() == "" {
		t.Errorf("Lookup() = %+v", i)
	}

	if _, err := Lookup("nope"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Lookup(nope) error = %v", err)
	}
}

func TestCatalogIsComplete(t *testing.T) {
	t.Parallel()

	for _, c := range []Category{
		NotFound, RegistryUnreachable, VersionGone, ConflictingConstraints,
		NoMatchingVersion, InstallFailed, GraphFailed, UnsupportedTarget, InvalidManifest,
	} {
		i, err := Lookup(string(c))
		if err != nil {
			t.Errorf("category %s has no catalog entry", c)
			continue
		}
		if !strings.Contains(i.Markdown(), "## Things you can try") {
			t.Errorf("%s guidance has no suggestions section", c)
		}
	}
	if got := len(Names()); got != len(catalog) {
		t.Errorf("Names() has %d entries, catalog %d", got, len(catalog))
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	for _, name := range Names() {
		i, _ := Lookup(name)
		out, err := i.Render("notty")
		if err != nil {
			t.Errorf("%s: Render() error = %v", name, err)
			continue
		}
		if !strings.Contains(out, i.Title()) {
			t.Errorf("%s: rendered output lacks the title", name)
		}
	}
}
