// SPDX-License-Identifier: MPL-2.0

// Package resolver selects one version per package so that every constraint
// reachable from a project manifest holds, and records the selection as a
// lockfile.
package resolver

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/semver"
)

const (
	// DefaultWorkers bounds concurrent registry calls.
	DefaultWorkers = 8
	// DefaultMaxIterations bounds the fixpoint loop.
	DefaultMaxIterations = 32
)

type (
	// Options tunes a resolution.
	Options struct {
		Workers int
		// Preferred pins versions from an existing lockfile. A pin is kept while
		// it still satisfies the combined constraint.
		Preferred     map[manifest.PackageName]semver.Version
		MaxIterations int
		Logger        *slog.Logger
	}

	// resolution is the state of one Resolve call.
	resolution struct {
		root   *manifest.Manifest
		client registry.Client
		opts   Options

		mu        sync.Mutex
		versions  map[manifest.PackageName][]semver.Version
		snapshots map[string]*selection
	}

	selection struct {
		snapshot   *registry.Snapshot
		descriptor *registry.Descriptor
	}
)

// Resolve computes the lockfile for m. Identical inputs produce identical
// lockfiles. Nothing is written; callers persist the result.
func Resolve(ctx context.Context, m *manifest.Manifest, client registry.Client, opts Options) (*manifest.Lockfile, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &resolution{
		root:      m,
		client:    client,
		opts:      opts,
		versions:  map[manifest.PackageName][]semver.Version{},
		snapshots: map[string]*selection{},
	}
	return r.run(ctx)
}

func (r *resolution) run(ctx context.Context) (*manifest.Lockfile, error) {
	selected := map[manifest.PackageName]*selection{}

	for round := 1; round <= r.opts.MaxIterations; round++ {
		reqs := r.requirements(selected)
		names := slices.Sorted(maps.Keys(reqs))

		combined := make(map[manifest.PackageName]semver.Constraint, len(names))
		for _, name := range names {
			c, err := combine(name, reqs[name])
			if err != nil {
				return nil, err
			}
			combined[name] = c
		}

		if err := r.listVersions(ctx, names); err != nil {
			return nil, err
		}

		picks := make(map[manifest.PackageName]semver.Version, len(names))
		for _, name := range names {
			v, err := r.pick(name, combined[name], reqs[name])
			if err != nil {
				return nil, err
			}
			picks[name] = v
		}

		if sameSelection(selected, picks) {
			r.opts.Logger.Debug("resolution converged", "rounds", round, "packages", len(picks))
			return r.lockfile(selected), nil
		}

		next, err := r.inspect(ctx, picks)
		if err != nil {
			return nil, err
		}
		r.opts.Logger.Debug("resolution round", "round", round, "packages", len(next))
		selected = next
	}
	return nil, fmt.Errorf("%w after %d rounds", ErrUnstableResolution, r.opts.MaxIterations)
}

// requirements collects constraints from the root manifest and from every
// selected package reachable from it. Each list starts with the root's
// requirement, followed by the others ordered by requirer name.
func (r *resolution) requirements(selected map[manifest.PackageName]*selection) map[manifest.PackageName][]Requirement {
	reqs := map[manifest.PackageName][]Requirement{}
	add := func(requirer manifest.PackageName, deps map[manifest.PackageName]manifest.Dependency) []manifest.PackageName {
		names := slices.Sorted(maps.Keys(deps))
		for _, name := range names {
			c, err := deps[name].Constraint()
			if err != nil {
				// Manifests are validated on parse.
				c = semver.Any()
			}
			reqs[name] = append(reqs[name], Requirement{Constraint: c, Requirer: requirer})
		}
		return names
	}

	queue := add("", r.root.Dependencies)
	visited := map[manifest.PackageName]bool{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if visited[name] {
			continue
		}
		visited[name] = true
		sel, ok := selected[name]
		if !ok || sel.snapshot.Manifest == nil {
			continue
		}
		queue = append(queue, add(name, sel.snapshot.Manifest.Dependencies)...)
	}

	for name := range reqs {
		slices.SortStableFunc(reqs[name], func(a, b Requirement) int {
			return cmp.Compare(a.Requirer, b.Requirer)
		})
	}
	return reqs
}

// combine intersects requirements in order. On failure it names the earliest
// single requirement that conflicts with the failing one.
func combine(name manifest.PackageName, reqs []Requirement) (semver.Constraint, error) {
	acc := reqs[0].Constraint
	if acc.Empty() {
		return semver.Constraint{}, &ConflictError{Package: name, A: reqs[0], B: reqs[0]}
	}
	for i := 1; i < len(reqs); i++ {
		next, ok := semver.Intersect(acc, reqs[i].Constraint)
		if ok {
			acc = next
			continue
		}
		conflict := &ConflictError{Package: name, A: reqs[0], B: reqs[i]}
		for j := range i {
			if _, pairOK := semver.Intersect(reqs[j].Constraint, reqs[i].Constraint); !pairOK {
				conflict.A = reqs[j]
				break
			}
		}
		return semver.Constraint{}, conflict
	}
	return acc, nil
}

// listVersions fetches version lists for names not listed yet. All lookups
// finish before any selection is made.
func (r *resolution) listVersions(ctx context.Context, names []manifest.PackageName) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, name := range names {
		r.mu.Lock()
		_, done := r.versions[name]
		r.mu.Unlock()
		if done {
			continue
		}
		g.Go(func() error {
			vs, err := r.client.ListVersions(gctx, name)
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.versions[name] = vs
			r.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// pick returns the preferred version when it still satisfies c, otherwise
// the greatest satisfying version.
func (r *resolution) pick(name manifest.PackageName, c semver.Constraint, reqs []Requirement) (semver.Version, error) {
	available := r.versions[name]
	if pref, ok := r.opts.Preferred[name]; ok && c.Satisfies(pref) {
		for _, v := range available {
			if v.Equal(pref) {
				return v, nil
			}
		}
	}
	if v, ok := c.Best(available); ok {
		return v, nil
	}
	return semver.Version{}, &NoMatchError{
		Package:      name,
		Constraint:   c.String(),
		Requirements: reqs,
		Available:    available,
	}
}

// inspect returns selections for picks, fetching snapshots for pairs not
// seen in an earlier round.
func (r *resolution) inspect(ctx context.Context, picks map[manifest.PackageName]semver.Version) (map[manifest.PackageName]*selection, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, name := range slices.Sorted(maps.Keys(picks)) {
		v := picks[name]
		key := snapshotKey(name, v)
		r.mu.Lock()
		_, done := r.snapshots[key]
		r.mu.Unlock()
		if done {
			continue
		}
		g.Go(func() error {
			desc, err := r.client.Describe(gctx, name)
			if err != nil {
				return err
			}
			snap, err := registry.Inspect(gctx, r.client, name, v)
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.snapshots[key] = &selection{snapshot: snap, descriptor: desc}
			r.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[manifest.PackageName]*selection, len(picks))
	for name, v := range picks {
		out[name] = r.snapshots[snapshotKey(name, v)]
	}
	return out, nil
}

func (r *resolution) lockfile(selected map[manifest.PackageName]*selection) *manifest.Lockfile {
	lock := manifest.NewLockfile(r.root)
	for _, name := range slices.Sorted(maps.Keys(selected)) {
		sel := selected[name]
		snap := sel.snapshot
		tag := snap.Version.Original
		if tag == "" {
			tag = snap.Version.String()
		}
		entry := manifest.LockEntry{
			Name:        name,
			Version:     snap.Version,
			Tag:         tag,
			Source:      sel.descriptor.Source(),
			Path:        sel.descriptor.Path,
			Commit:      snap.Commit,
			Fingerprint: snap.Fingerprint,
		}
		if snap.Manifest != nil {
			entry.Dependencies = snap.Manifest.DependencyNames()
		}
		lock.Packages = append(lock.Packages, entry)
	}
	return lock
}

func sameSelection(selected map[manifest.PackageName]*selection, picks map[manifest.PackageName]semver.Version) bool {
	if len(selected) != len(picks) {
		return false
	}
	for name, v := range picks {
		sel, ok := selected[name]
		if !ok || !sel.snapshot.Version.Equal(v) {
			return false
		}
	}
	return true
}

func snapshotKey(name manifest.PackageName, v semver.Version) string {
	return string(name) + "@" + v.String()
}
