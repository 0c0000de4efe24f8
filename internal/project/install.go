// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/resolver"
	"github.com/lunekit/lunekit/pkg/semver"
)

type (
	// PackageSpec is a parsed "name[@constraint]" argument.
	PackageSpec struct {
		Name manifest.PackageName
		// Constraint is empty when the latest release should be pinned with a
		// caret constraint.
		Constraint string
	}

	// InstallReport describes what Install and Update did.
	InstallReport struct {
		Lock *manifest.Lockfile
		// Paths maps each locked package to its store directory.
		Paths map[manifest.PackageName]string
		// Added lists the dependencies whose manifest entry was written.
		Added []PackageSpec
		// Reused is true when the existing lockfile was current.
		Reused  bool
		Fetched int
		Cached  int
	}
)

// ParsePackageSpec parses "name" or "name@constraint".
func ParsePackageSpec(s string) (PackageSpec, error) {
	name, constraint, _ := strings.Cut(strings.TrimSpace(s), "@")
	spec := PackageSpec{Name: manifest.PackageName(name), Constraint: strings.TrimSpace(constraint)}
	if err := spec.Name.Validate(); err != nil {
		return PackageSpec{}, &InvalidSpecError{Spec: s, Err: err}
	}
	if spec.Constraint != "" {
		if _, err := semver.ParseConstraint(spec.Constraint); err != nil {
			return PackageSpec{}, &InvalidSpecError{Spec: s, Err: err}
		}
	}
	return spec, nil
}

func (p PackageSpec) String() string {
	if p.Constraint == "" {
		return string(p.Name)
	}
	return string(p.Name) + "@" + p.Constraint
}

// Install adds specs to the manifest, resolves (reusing the lockfile when it
// is current), installs every locked package and writes the manifest, the
// lockfile and .luaurc. Nothing is written unless every step succeeds.
func (s *Service) Install(ctx context.Context, specs []string) (*InstallReport, error) {
	if err := checkCtx(ctx, "install"); err != nil {
		return nil, err
	}
	parsed := make([]PackageSpec, 0, len(specs))
	for _, raw := range specs {
		spec, err := ParsePackageSpec(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, spec)
	}

	current, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	m := current.Clone()
	client, err := s.clientFor(m)
	if err != nil {
		return nil, err
	}

	added := make([]PackageSpec, 0, len(parsed))
	for _, spec := range parsed {
		if spec.Constraint == "" {
			if spec.Constraint, err = s.latestCaret(ctx, client, spec.Name); err != nil {
				return nil, err
			}
		}
		dep := m.Dependencies[spec.Name]
		dep.Version = spec.Constraint
		m.Dependencies[spec.Name] = dep
		added = append(added, spec)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	prev, err := s.loadLockIfAny()
	if err != nil {
		return nil, err
	}
	report := &InstallReport{Added: added}
	lock := prev
	if prev != nil && prev.IsCurrent(m) {
		report.Reused = true
		s.logger.Debug("lockfile is current", "packages", len(prev.Packages))
	} else {
		opts := resolver.Options{Workers: s.cfg.Workers, Logger: s.logger}
		if prev != nil {
			opts.Preferred = prev.Pins()
		}
		if lock, err = resolver.Resolve(ctx, m, client, opts); err != nil {
			return nil, err
		}
	}

	if err := s.installLocked(ctx, client, lock, report); err != nil {
		return nil, err
	}

	cs := newChangeSet(s.dir)
	if err := cs.manifest(m); err != nil {
		return nil, err
	}
	cs.lock(lock)
	if err := cs.luaurc(aliasesFor(m, report.Paths)); err != nil {
		return nil, err
	}
	if err := cs.commit(); err != nil {
		return nil, err
	}
	s.logger.Info("installed", "packages", len(lock.Packages), "fetched", report.Fetched, "cached", report.Cached)
	return report, nil
}

// installLocked populates the store from lock and records verified
// fingerprints for entries that had none.
func (s *Service) installLocked(ctx context.Context, client registry.Client, lock *manifest.Lockfile, report *InstallReport) error {
	st, err := s.Store()
	if err != nil {
		return err
	}
	res, err := s.installer(st, client).Install(ctx, lock)
	if err != nil {
		return err
	}
	for i, e := range lock.Packages {
		if e.Fingerprint == "" {
			lock.Packages[i].Fingerprint = res.Fingerprints[e.Name]
		}
	}
	report.Lock = lock
	report.Paths = res.Paths
	report.Fetched = res.Fetched
	report.Cached = res.Cached
	return nil
}

// latestCaret returns "^X.Y.Z" for the newest stable release of name.
func (s *Service) latestCaret(ctx context.Context, client registry.Client, name manifest.PackageName) (string, error) {
	versions, err := client.ListVersions(ctx, name)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if !v.IsPrerelease() {
			return fmt.Sprintf("^%d.%d.%d", v.Major, v.Minor, v.Patch), nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNoReleases)
}

// installedPaths installs lock through a freshly built client. Used by the
// operations that never resolve.
func (s *Service) installedPaths(ctx context.Context, m *manifest.Manifest, lock *manifest.Lockfile) (*InstallReport, error) {
	client, err := s.clientFor(m)
	if err != nil {
		return nil, err
	}
	report := &InstallReport{Reused: true}
	if err := s.installLocked(ctx, client, lock, report); err != nil {
		return nil, err
	}
	return report, nil
}
