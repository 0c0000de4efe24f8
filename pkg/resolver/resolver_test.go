// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/registry/registrytest"
	"github.com/lunekit/lunekit/pkg/semver"
)

func rootManifest(deps map[string]string) *manifest.Manifest {
	m := manifest.New("app", "")
	for name, c := range deps {
		m.Dependencies[manifest.PackageName(name)] = manifest.Dependency{Version: c}
	}
	return m
}

func lockVersions(l *manifest.Lockfile) map[string]string {
	out := map[string]string{}
	for _, e := range l.Packages {
		out[string(e.Name)] = e.Version.String()
	}
	return out
}

func TestResolveTieBreak(t *testing.T) {
	t.Parallel()

	fake := registrytest.New()
	for _, v := range []string{"1.2.0", "1.3.0", "1.2.9"} {
		fake.Add("lib", v, registrytest.Files{"init.luau": "return '" + v + "'"})
	}

	tests := []struct {
		constraint string
		want       string
	}{
		{"~1.2", "1.2.9"},
		{">=1.2", "1.3.0"},
		{"^1.2", "1.3.0"},
		{"1.2.0", "1.2.0"},
	}
	for _, tt := range tests {
		lock, err := Resolve(context.Background(), rootManifest(map[string]string{"lib": tt.constraint}), fake, Options{})
		if err != nil {
			t.Fatalf("Resolve(%s) error: %v", tt.constraint, err)
		}
		if got := lockVersions(lock)["lib"]; got != tt.want {
			t.Errorf("Resolve(%s) selected %s, want %s", tt.constraint, got, tt.want)
		}
	}
}

func TestResolveTransitive(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().
		AddWithDeps("web", "2.0.0", map[string]string{"json": "^1.1", "log": "~0.4"}).
		AddWithDeps("json", "1.0.0", nil).
		AddWithDeps("json", "1.1.5", nil).
		AddWithDeps("json", "2.0.0", nil).
		AddWithDeps("log", "0.4.2", map[string]string{"json": ">=1.1.3"}).
		AddWithDeps("log", "0.5.0", nil)

	lock, err := Resolve(context.Background(), rootManifest(map[string]string{"web": "^2"}), fake, Options{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := map[string]string{"web": "2.0.0", "json": "1.1.5", "log": "0.4.2"}
	got := lockVersions(lock)
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %s, want %s", name, got[name], v)
		}
	}
	if len(got) != len(want) {
		t.Errorf("lock has %v, want %v", got, want)
	}

	web, _ := lock.Find("web")
	if !slices.Equal(web.Dependencies, []manifest.PackageName{"json", "log"}) {
		t.Errorf("web.Dependencies = %v", web.Dependencies)
	}
	if web.Fingerprint.Validate() != nil || web.Source == "" || web.Tag == "" {
		t.Errorf("web entry incomplete: %+v", web)
	}
	if !lock.IsCurrent(rootManifest(map[string]string{"web": "^2"})) {
		t.Error("lock should record the manifest digest")
	}
}

func TestResolveDeterministic(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().
		AddWithDeps("a", "1.0.0", map[string]string{"c": "^1"}).
		AddWithDeps("b", "1.0.0", map[string]string{"c": "~1.1", "d": "*"}).
		AddWithDeps("c", "1.1.0", nil).
		AddWithDeps("c", "1.2.0", nil).
		AddWithDeps("d", "0.1.0", nil)
	m := rootManifest(map[string]string{"a": "1", "b": "1"})

	first, err := Resolve(context.Background(), m, fake, Options{Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := Resolve(context.Background(), m, fake, Options{Workers: 4})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first.Marshal(), again.Marshal()) {
			t.Fatalf("lockfiles differ:\n%s\n---\n%s", first.Marshal(), again.Marshal())
		}
	}
	if lockVersions(first)["c"] != "1.1.0" {
		t.Errorf("c = %s, want 1.1.0", lockVersions(first)["c"])
	}
}

func TestResolveConflict(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().
		AddWithDeps("a", "1.0.0", map[string]string{"lib": "^1.0"}).
		AddWithDeps("b", "1.0.0", map[string]string{"lib": "^2.0"}).
		AddWithDeps("lib", "1.5.0", nil).
		AddWithDeps("lib", "2.1.0", nil)

	_, err := Resolve(context.Background(), rootManifest(map[string]string{"a": "^1", "b": "^1"}), fake, Options{})
	if !errors.Is(err, ErrConflictingConstraints) {
		t.Fatalf("error = %v, want ErrConflictingConstraints", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error should be *ConflictError, got %T", err)
	}
	if conflict.Package != "lib" || conflict.A.Requirer != "a" || conflict.B.Requirer != "b" {
		t.Errorf("conflict = %+v", conflict)
	}
	if conflict.A.Constraint.String() != "^1.0" || conflict.B.Constraint.String() != "^2.0" {
		t.Errorf("conflict constraints = %s / %s", conflict.A.Constraint, conflict.B.Constraint)
	}
}

func TestResolveConflictWithRoot(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().
		AddWithDeps("a", "1.0.0", map[string]string{"lib": "~1.2"}).
		AddWithDeps("lib", "1.2.0", nil).
		AddWithDeps("lib", "1.3.0", nil)

	_, err := Resolve(context.Background(), rootManifest(map[string]string{"a": "1", "lib": "1.3"}), fake, Options{})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("error = %v, want *ConflictError", err)
	}
	if conflict.A.Requirer != "" || conflict.A.RequirerName() != manifest.FileName || conflict.B.Requirer != "a" {
		t.Errorf("conflict = %v", conflict)
	}
}

func TestResolveNoMatch(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().AddWithDeps("lib", "1.0.0", nil)
	_, err := Resolve(context.Background(), rootManifest(map[string]string{"lib": "^2"}), fake, Options{})
	var nomatch *NoMatchError
	if !errors.As(err, &nomatch) || !errors.Is(err, ErrNoMatchingVersion) {
		t.Fatalf("error = %v, want *NoMatchError", err)
	}
	if nomatch.Package != "lib" || len(nomatch.Available) != 1 {
		t.Errorf("nomatch = %+v", nomatch)
	}
}

func TestResolveNotFound(t *testing.T) {
	t.Parallel()

	_, err := Resolve(context.Background(), rootManifest(map[string]string{"ghost": "*"}), registrytest.New(), Options{})
	if !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("error = %v, want registry.ErrNotFound", err)
	}
}

func TestResolvePreferred(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().
		AddWithDeps("lib", "1.0.0", nil).
		AddWithDeps("lib", "1.4.0", nil)

	opts := Options{Preferred: map[manifest.PackageName]semver.Version{"lib": semver.MustParse("1.0.0")}}
	lock, err := Resolve(context.Background(), rootManifest(map[string]string{"lib": "^1"}), fake, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := lockVersions(lock)["lib"]; got != "1.0.0" {
		t.Errorf("preferred pin ignored: lib = %s", got)
	}

	// A pin that no longer satisfies the manifest is dropped.
	lock, err = Resolve(context.Background(), rootManifest(map[string]string{"lib": ">=1.1"}), fake, opts)
	if err != nil {
		t.Fatal(err)
	}
	if got := lockVersions(lock)["lib"]; got != "1.4.0" {
		t.Errorf("lib = %s, want 1.4.0", got)
	}
}

func TestResolveDropsUnreachable(t *testing.T) {
	t.Parallel()

	// 2.0.0 of a no longer depends on old; old must disappear.
	fake := registrytest.New().
		AddWithDeps("a", "1.0.0", map[string]string{"old": "*"}).
		AddWithDeps("a", "2.0.0", nil).
		AddWithDeps("old", "1.0.0", nil)

	opts := Options{Preferred: map[manifest.PackageName]semver.Version{"a": semver.MustParse("1.0.0")}}
	lock, err := Resolve(context.Background(), rootManifest(map[string]string{"a": "^2"}), fake, opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := lock.Find("old"); ok {
		t.Errorf("unreachable package kept: %v", lockVersions(lock))
	}
}

func TestResolveEmptyManifest(t *testing.T) {
	t.Parallel()

	lock, err := Resolve(context.Background(), rootManifest(nil), registrytest.New(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(lock.Packages) != 0 {
		t.Errorf("packages = %v", lock.Packages)
	}
}

// countingClient records the peak number of concurrent ListVersions calls.
type countingClient struct {
	registry.Client
	active, peak atomic.Int64
}

func (c *countingClient) ListVersions(ctx context.Context, name manifest.PackageName) ([]semver.Version, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.Client.ListVersions(ctx, name)
}

func TestResolveConcurrencyBound(t *testing.T) {
	t.Parallel()

	fake := registrytest.New()
	deps := map[string]string{}
	for i := range 12 {
		name := fmt.Sprintf("pkg%02d", i)
		fake.AddWithDeps(manifest.PackageName(name), "1.0.0", nil)
		deps[name] = "^1"
	}
	client := &countingClient{Client: fake}

	if _, err := Resolve(context.Background(), rootManifest(deps), client, Options{Workers: 3}); err != nil {
		t.Fatal(err)
	}
	if peak := client.peak.Load(); peak > 3 || peak < 2 {
		t.Errorf("peak concurrency = %d, want 2..3", peak)
	}
	if fake.Lists.Load() != 12 {
		t.Errorf("ListVersions calls = %d, want one per package", fake.Lists.Load())
	}
}

func TestResolveCancelled(t *testing.T) {
	t.Parallel()

	fake := registrytest.New().AddWithDeps("lib", "1.0.0", nil)
	fake.ListDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := Resolve(ctx, rootManifest(map[string]string{"lib": "*"}), fake, Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
