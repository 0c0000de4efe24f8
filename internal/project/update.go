// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"slices"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/resolver"
)

type (
	// UpdateOptions configures Update.
	UpdateOptions struct {
		// Names limits the update to these dependencies. Empty means all.
		Names []string
		// Bump rewrites the manifest constraint of each updated direct
		// dependency to a caret on the selected version.
		Bump bool
	}

	// VersionChange records a package whose locked version moved. From is
	// empty for new packages and To is empty for dropped ones.
	VersionChange struct {
		Name manifest.PackageName
		From string
		To   string
	}
)

// Update re-resolves ignoring lockfile pins for the named packages, installs
// the result and rewrites the lockfile and .luaurc (and the manifest when
// bumping).
func (s *Service) Update(ctx context.Context, opts UpdateOptions) (*InstallReport, []VersionChange, error) {
	if err := checkCtx(ctx, "update"); err != nil {
		return nil, nil, err
	}
	current, err := s.Manifest()
	if err != nil {
		return nil, nil, err
	}
	m := current.Clone()

	targets := make([]manifest.PackageName, 0, len(opts.Names))
	for _, raw := range opts.Names {
		name := manifest.PackageName(raw)
		if err := name.Validate(); err != nil {
			return nil, nil, &InvalidSpecError{Spec: raw, Err: err}
		}
		if _, ok := m.Dependencies[name]; !ok {
			return nil, nil, &NotDependencyError{Name: name}
		}
		targets = append(targets, name)
	}

	prev, err := s.loadLockIfAny()
	if err != nil {
		return nil, nil, err
	}
	ropts := resolver.Options{Workers: s.cfg.Workers, Logger: s.logger}
	if prev != nil && len(targets) > 0 {
		ropts.Preferred = prev.Pins()
		for _, name := range targets {
			delete(ropts.Preferred, name)
		}
	}

	client, err := s.clientFor(m)
	if err != nil {
		return nil, nil, err
	}
	lock, err := resolver.Resolve(ctx, m, client, ropts)
	if err != nil {
		return nil, nil, err
	}
	report := &InstallReport{}
	if err := s.installLocked(ctx, client, lock, report); err != nil {
		return nil, nil, err
	}

	if opts.Bump {
		bumped := targets
		if len(bumped) == 0 {
			bumped = m.DependencyNames()
		}
		for _, name := range bumped {
			e, ok := lock.Find(name)
			if !ok {
				continue
			}
			dep := m.Dependencies[name]
			dep.Version = "^" + e.Version.String()
			m.Dependencies[name] = dep
		}
		if err := m.Validate(); err != nil {
			return nil, nil, err
		}
		lock.ManifestDigest = m.Digest()
	}

	cs := newChangeSet(s.dir)
	if opts.Bump {
		if err := cs.manifest(m); err != nil {
			return nil, nil, err
		}
	}
	cs.lock(lock)
	if err := cs.luaurc(aliasesFor(m, report.Paths)); err != nil {
		return nil, nil, err
	}
	if err := cs.commit(); err != nil {
		return nil, nil, err
	}
	changes := diffLocks(prev, lock)
	s.logger.Info("updated", "changed", len(changes))
	return report, changes, nil
}

func diffLocks(prev, next *manifest.Lockfile) []VersionChange {
	versions := func(l *manifest.Lockfile) map[manifest.PackageName]string {
		out := map[manifest.PackageName]string{}
		if l != nil {
			for _, e := range l.Packages {
				out[e.Name] = e.Version.String()
			}
		}
		return out
	}
	before, after := versions(prev), versions(next)
	names := make([]manifest.PackageName, 0, len(before)+len(after))
	for n := range before {
		names = append(names, n)
	}
	for n := range after {
		if _, ok := before[n]; !ok {
			names = append(names, n)
		}
	}
	slices.Sort(names)

	var out []VersionChange
	for _, n := range names {
		if before[n] != after[n] {
			out = append(out, VersionChange{Name: n, From: before[n], To: after[n]})
		}
	}
	return out
}
