// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lunekit/lunekit/pkg/manifest"
)

const (
	stagingDirName = ".staging"
	locksDirName   = ".locks"

	// StaleStagingAge is how old a staging directory must be before Prune
	// removes it.
	StaleStagingAge = time.Hour
)

type (
	// Store is a package store rooted at a directory.
	Store struct {
		root string
		now  func() time.Time
	}

	// Option configures a Store.
	Option func(*Store)

	// Entry describes one installed package tree.
	Entry struct {
		Name        manifest.PackageName
		Version     string
		Fingerprint string
		Path        string
	}
)

// WithClock overrides time.Now, used to age staging directories.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open returns the store at root, creating the directory if needed.
func Open(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", abs, err)
	}
	s := &Store{root: abs, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// Path returns where e is (or would be) installed. e must carry a fingerprint.
func (s *Store) Path(e manifest.LockEntry) string {
	return filepath.Join(s.root, string(e.Name), e.Version.String(), e.Fingerprint.Hex())
}

// Lookup returns the installed path of e, if present.
func (s *Store) Lookup(e manifest.LockEntry) (string, bool) {
	if e.Fingerprint == "" {
		return "", false
	}
	p := s.Path(e)
	info, err := os.Stat(p)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return p, true
}

// Entries lists installed package trees sorted by name, version and
// fingerprint.
func (s *Store) Entries() ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*", "*"))
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, m := range matches {
		rel, err := filepath.Rel(s.root, m)
		if err != nil {
			continue
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 || parts[0][0] == '.' {
			continue
		}
		if info, err := os.Stat(m); err != nil || !info.IsDir() {
			continue
		}
		out = append(out, Entry{
			Name:        manifest.PackageName(parts[0]),
			Version:     parts[1],
			Fingerprint: "sha256:" + parts[2],
			Path:        m,
		})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Prune removes staging directories older than olderThan and returns how
// many were removed.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	dir := filepath.Join(s.root, stagingDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read staging: %w", err)
	}
	cutoff := s.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// newStaging creates a fresh staging directory for name.
func (s *Store) newStaging(name manifest.PackageName) (string, error) {
	dir := filepath.Join(s.root, stagingDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging: %w", err)
	}
	return os.MkdirTemp(dir, string(name)+"-*")
}
