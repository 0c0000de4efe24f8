// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/lunekit/lunekit/internal/runtimes"
	"github.com/lunekit/lunekit/pkg/bundle"
	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/modgraph"
)

type (
	// BuildOptions configures Build. Relative paths are taken from the
	// project directory.
	BuildOptions struct {
		Entry  string
		Output string
		// Target defaults to the host.
		Target string
	}

	// BuildReport describes a finished build.
	BuildReport struct {
		Graph   *modgraph.Graph
		Bundle  *bundle.Bundle
		Target  runtimes.Target
		Runtime string
		Output  string
	}
)

// Build installs the locked packages, walks the module graph from the entry
// script and writes a standalone executable. It never resolves: the
// lockfile is taken as it is.
func (s *Service) Build(ctx context.Context, opts BuildOptions) (*BuildReport, error) {
	if err := checkCtx(ctx, "build"); err != nil {
		return nil, err
	}
	target, err := s.target(opts.Target)
	if err != nil {
		return nil, err
	}
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	lock, err := s.lockForBuild(m)
	if err != nil {
		return nil, err
	}
	installed, err := s.installedPaths(ctx, m, lock)
	if err != nil {
		return nil, err
	}

	r := &modgraph.Resolver{
		Root:            s.dir,
		Packages:        installed.Paths,
		Aliases:         m.Aliases,
		BuiltinPrefixes: s.cfg.Graph.BuiltinPrefixes,
	}
	g, err := modgraph.Build(ctx, s.path(opts.Entry), r, s.graphOptions())
	if err != nil {
		return nil, err
	}
	for _, d := range g.Diagnostics {
		s.logger.Debug("graph diagnostic", "diagnostic", d.String())
	}
	b, err := bundle.FromGraph(g)
	if err != nil {
		return nil, err
	}

	provider, err := s.runtimeProvider()
	if err != nil {
		return nil, err
	}
	runtimePath, err := provider.Runtime(ctx, target)
	if err != nil {
		return nil, err
	}
	output := s.path(opts.Output)
	if err := bundle.Build(ctx, b, runtimePath, output); err != nil {
		return nil, err
	}
	s.logger.Info("built", "output", output, "modules", len(b.Records), "target", target)
	return &BuildReport{Graph: g, Bundle: b, Target: target, Runtime: runtimePath, Output: output}, nil
}

// lockForBuild loads the lockfile. A project without dependencies may build
// without one.
func (s *Service) lockForBuild(m *manifest.Manifest) (*manifest.Lockfile, error) {
	lock, err := s.Lock()
	switch {
	case errors.Is(err, manifest.ErrLockfileNotFound) && len(m.Dependencies) == 0:
		return manifest.NewLockfile(m), nil
	case err != nil:
		return nil, err
	}
	if !lock.IsCurrent(m) {
		s.logger.Warn("lockfile is out of date with lunekit.toml; run 'lunekit install'")
	}
	return lock, nil
}

func (s *Service) target(name string) (runtimes.Target, error) {
	if name == "" {
		return runtimes.HostTarget()
	}
	return runtimes.ParseTarget(name)
}

func (s *Service) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.dir, p)
}
