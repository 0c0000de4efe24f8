// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lunekit/lunekit/internal/config"
	"github.com/lunekit/lunekit/internal/runtimes"
	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/modgraph"
	"github.com/lunekit/lunekit/pkg/registry"
	"github.com/lunekit/lunekit/pkg/store"
)

type (
	// Service runs pipeline operations against one project directory.
	Service struct {
		dir      string
		cfg      *config.Config
		client   registry.Client
		runtimes *runtimes.Provider
		logger   *slog.Logger
	}

	// Option configures a Service.
	Option func(*Service)
)

// WithClient replaces the registry client built from configuration.
func WithClient(c registry.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithRuntimeProvider replaces the runtime provider built from configuration.
func WithRuntimeProvider(p *runtimes.Provider) Option {
	return func(s *Service) { s.runtimes = p }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service for dir. A nil cfg means config.DefaultConfig with
// the default store and cache directories.
func New(dir string, cfg *config.Config, opts ...Option) (*Service, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("project directory %s: %w", dir, err)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Service{dir: abs, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("project", filepath.Base(abs))
	return s, nil
}

// Dir returns the absolute project directory.
func (s *Service) Dir() string { return s.dir }

// Config returns the configuration the service runs with.
func (s *Service) Config() *config.Config { return s.cfg }

// Manifest loads the project manifest.
func (s *Service) Manifest() (*manifest.Manifest, error) {
	return manifest.Load(s.dir)
}

// Lock loads the project lockfile.
func (s *Service) Lock() (*manifest.Lockfile, error) {
	return manifest.LoadLock(s.dir)
}

// Store opens the package store named by the configuration.
func (s *Service) Store() (*store.Store, error) {
	if s.cfg.StoreDir == "" {
		dir, err := config.DefaultStoreDir()
		if err != nil {
			return nil, err
		}
		return store.Open(dir)
	}
	return store.Open(s.cfg.StoreDir)
}

// loadLockIfAny returns nil without error when the project has no lockfile.
func (s *Service) loadLockIfAny() (*manifest.Lockfile, error) {
	lock, err := s.Lock()
	if errors.Is(err, manifest.ErrLockfileNotFound) {
		return nil, nil
	}
	return lock, err
}

// clientFor returns the registry client for m: a git client over the
// manifest's own sources and the configured catalog, with retries.
func (s *Service) clientFor(m *manifest.Manifest) (registry.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	var base registry.Catalog
	if loc := s.registryLocation(m); loc != "" {
		c, err := registry.OpenCatalog(loc)
		if err != nil {
			return nil, err
		}
		base = c
	}
	overlay, err := registry.OverlayFromManifest(base, m)
	if err != nil {
		return nil, err
	}
	git := registry.NewGitClient(overlay, registry.WithLogger(s.logger))
	return registry.Retrying(git, registry.RetryPolicy{
		MaxAttempts:    s.cfg.Retry.Attempts,
		BaseBackoff:    s.cfg.Retry.BaseBackoff,
		MaxBackoff:     s.cfg.Retry.MaxBackoff,
		RequestTimeout: s.cfg.Retry.RequestTimeout,
		Logger:         s.logger,
	}), nil
}

// registryLocation prefers the manifest's registry over the configured one.
// A relative directory in the manifest is taken from the project root.
func (s *Service) registryLocation(m *manifest.Manifest) string {
	loc := strings.TrimSpace(m.Registry)
	if loc == "" {
		return strings.TrimSpace(s.cfg.Registry)
	}
	if strings.Contains(loc, "://") || filepath.IsAbs(loc) {
		return loc
	}
	return filepath.Join(s.dir, loc)
}

func (s *Service) installer(st *store.Store, client registry.Client) *store.Installer {
	return &store.Installer{Store: st, Client: client, Workers: s.cfg.Workers, Logger: s.logger}
}

// runtimeProvider returns the injected provider or one built from config.
func (s *Service) runtimeProvider() (*runtimes.Provider, error) {
	if s.runtimes != nil {
		return s.runtimes, nil
	}
	p := &runtimes.Provider{
		Dir:        s.cfg.Runtime.Dir,
		CacheDir:   s.cfg.CacheDir,
		Version:    s.cfg.Runtime.Version,
		SearchPath: s.cfg.Runtime.SearchPath,
		Logger:     s.logger,
	}
	if s.cfg.Runtime.Repo != "" {
		gh, err := runtimes.NewGitHubClient(s.cfg.Runtime.Repo)
		if err != nil {
			return nil, err
		}
		p.Releases = gh
	}
	return p, nil
}

// graphOptions maps the configured policies onto modgraph options and opens
// the extraction cache when a cache directory is configured.
func (s *Service) graphOptions() modgraph.Options {
	opts := modgraph.Options{
		Cycles:     s.cfg.Graph.Cycles,
		Unresolved: s.cfg.Graph.Unresolved,
		Logger:     s.logger,
	}
	if s.cfg.CacheDir != "" {
		cache, err := modgraph.OpenCache(s.cfg.CacheDir)
		if err != nil {
			s.logger.Warn("require cache disabled", "dir", s.cfg.CacheDir, "err", err)
		} else {
			opts.Cache = cache
		}
	}
	return opts
}

// aliasesFor maps every locked package to its installed path and adds the
// manifest's own aliases.
func aliasesFor(m *manifest.Manifest, paths map[manifest.PackageName]string) map[string]string {
	out := make(map[string]string, len(paths)+len(m.Aliases))
	for name, p := range paths {
		out[string(name)] = p
	}
	for name, target := range m.Aliases {
		out[strings.TrimPrefix(name, "@")] = target
	}
	return out
}

func checkCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s canceled: %w", op, err)
	}
	return nil
}
