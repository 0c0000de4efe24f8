// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lunekit/lunekit/internal/fsutil"
	"github.com/lunekit/lunekit/pkg/manifest"
)

// InitOptions configures Init.
type InitOptions struct {
	// Name defaults to the directory name.
	Name        string
	Description string
}

// Init scaffolds lunekit.toml, an empty lockfile and .luaurc. It refuses to
// touch a directory that already has a manifest.
func (s *Service) Init(ctx context.Context, opts InitOptions) (*manifest.Manifest, error) {
	if err := checkCtx(ctx, "init"); err != nil {
		return nil, err
	}
	exists, err := fsutil.Exists(filepath.Join(s.dir, manifest.FileName))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%s: %w", filepath.Join(s.dir, manifest.FileName), ErrAlreadyInitialized)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(s.dir)
	}
	m := manifest.New(name, opts.Description)
	if err := m.Validate(); err != nil {
		return nil, err
	}

	cs := newChangeSet(s.dir)
	if err := cs.manifest(m); err != nil {
		return nil, err
	}
	cs.lock(manifest.NewLockfile(m))
	if err := cs.luaurc(aliasesFor(m, nil)); err != nil {
		return nil, err
	}
	if err := cs.commit(); err != nil {
		return nil, err
	}
	s.logger.Info("initialized project", "name", name)
	return m, nil
}
