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

// VendorDirName is the directory Vendor copies packages into.
const VendorDirName = "lune_packages"

// Vendor installs the locked packages and copies each tree into
// lune_packages/<name>, replacing earlier copies. .luaurc is pointed at the
// vendored copies. Returns name -> vendored directory.
func (s *Service) Vendor(ctx context.Context) (map[manifest.PackageName]string, error) {
	if err := checkCtx(ctx, "vendor"); err != nil {
		return nil, err
	}
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	lock, err := s.Lock()
	if err != nil {
		return nil, err
	}
	installed, err := s.installedPaths(ctx, m, lock)
	if err != nil {
		return nil, err
	}

	root := filepath.Join(s.dir, VendorDirName)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", VendorDirName, err)
	}
	out := make(map[manifest.PackageName]string, len(lock.Packages))
	rel := make(map[manifest.PackageName]string, len(lock.Packages))
	for _, e := range lock.Packages {
		if err := checkCtx(ctx, "vendor"); err != nil {
			return nil, err
		}
		dst := filepath.Join(root, string(e.Name))
		if err := replaceDir(installed.Paths[e.Name], dst); err != nil {
			return nil, fmt.Errorf("vendor %s: %w", e.Name, err)
		}
		out[e.Name] = dst
		rel[e.Name] = "./" + VendorDirName + "/" + string(e.Name)
	}

	cs := newChangeSet(s.dir)
	if err := cs.luaurc(aliasesFor(m, rel)); err != nil {
		return nil, err
	}
	if err := cs.commit(); err != nil {
		return nil, err
	}
	s.logger.Info("vendored", "packages", len(out), "dir", root)
	return out, nil
}

// replaceDir copies src to a sibling staging directory and swaps it in for
// dst, so dst is either the old tree or the complete new one.
func replaceDir(src, dst string) (err error) {
	staging, err := os.MkdirTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(staging)
		}
	}()
	if err := fsutil.CopyDir(src, staging); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(staging, dst)
}
