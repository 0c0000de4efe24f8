// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lunekit/lunekit/pkg/manifest"
	"github.com/lunekit/lunekit/pkg/registry"
)

// DefaultWorkers bounds concurrent package installs.
const DefaultWorkers = 8

var (
	// ErrInstall is wrapped by every InstallError.
	ErrInstall = errors.New("install failed")
	// ErrFingerprintMismatch is the sentinel error wrapped by FingerprintError.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")
)

type (
	// Installer fetches locked packages into a Store. One Installer may serve
	// concurrent Install calls; installs of the same entry are shared.
	Installer struct {
		Store   *Store
		Client  registry.Client
		Workers int
		Logger  *slog.Logger

		group singleflight.Group
	}

	// Result summarises an Install call.
	Result struct {
		// Paths maps each package to its installed tree.
		Paths map[manifest.PackageName]string
		// Fingerprints holds the verified fingerprint of each package. It
		// differs from the lockfile only where the lockfile had none.
		Fingerprints map[manifest.PackageName]manifest.Fingerprint
		Fetched      int
		Cached       int
	}

	// InstallError reports a package that could not be installed.
	InstallError struct {
		Name    manifest.PackageName
		Version string
		Err     error
	}

	// FingerprintError reports fetched content that differs from what the
	// lockfile pins, or two fetches of an unpinned version that disagree.
	FingerprintError struct {
		Name     manifest.PackageName
		Version  string
		Expected manifest.Fingerprint
		Actual   manifest.Fingerprint
	}

	outcome struct {
		path        string
		fingerprint manifest.Fingerprint
		fetched     bool
	}
)

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("install %s@%s: %v", e.Name, e.Version, e.Err)
}

// Unwrap returns ErrInstall and the cause, so registry sentinels stay visible.
func (e *InstallError) Unwrap() []error { return []error{ErrInstall, e.Err} }

// Error implements the error interface.
func (e *FingerprintError) Error() string {
	return fmt.Sprintf("%s@%s: expected %s, got %s", e.Name, e.Version, e.Expected, e.Actual)
}

// Unwrap returns ErrFingerprintMismatch for errors.Is() compatibility.
func (e *FingerprintError) Unwrap() error { return ErrFingerprintMismatch }

// Install makes every entry of lock present in the store. Entries already
// present cost no registry call. On error, entries installed so far stay in
// place and nothing partial is left behind.
func (i *Installer) Install(ctx context.Context, lock *manifest.Lockfile) (*Result, error) {
	logger := i.logger()
	if n, err := i.Store.Prune(StaleStagingAge); err != nil {
		logger.Debug("prune staging failed", "error", err)
	} else if n > 0 {
		logger.Debug("pruned stale staging directories", "count", n)
	}

	workers := i.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		mu      sync.Mutex
		fetched atomic.Int64
		cached  atomic.Int64
		res     = &Result{
			Paths:        make(map[manifest.PackageName]string, len(lock.Packages)),
			Fingerprints: make(map[manifest.PackageName]manifest.Fingerprint, len(lock.Packages)),
		}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, entry := range lock.Packages {
		g.Go(func() error {
			out, err := i.installOne(gctx, entry)
			if err != nil {
				return &InstallError{Name: entry.Name, Version: entry.Version.String(), Err: err}
			}
			if out.fetched {
				fetched.Add(1)
			} else {
				cached.Add(1)
			}
			mu.Lock()
			res.Paths[entry.Name] = out.path
			res.Fingerprints[entry.Name] = out.fingerprint
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Fetched = int(fetched.Load())
	res.Cached = int(cached.Load())
	return res, nil
}

func (i *Installer) installOne(ctx context.Context, e manifest.LockEntry) (outcome, error) {
	if p, ok := i.Store.Lookup(e); ok {
		return outcome{path: p, fingerprint: e.Fingerprint}, nil
	}

	// The shared fetch runs detached from any one caller: a caller that is
	// cancelled stops waiting, the others still get the result.
	ch := i.group.DoChan(e.Key(), func() (any, error) {
		return i.fetchLocked(context.WithoutCancel(ctx), e)
	})
	select {
	case <-ctx.Done():
		return outcome{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return outcome{}, r.Err
		}
		out := r.Val.(outcome)
		if r.Shared {
			out.fetched = false
		}
		return out, nil
	}
}

// fetchLocked installs e while holding the cross-process lock for its key.
func (i *Installer) fetchLocked(ctx context.Context, e manifest.LockEntry) (outcome, error) {
	lock, err := acquireKeyLock(ctx, i.Store.root, e.Key())
	if err != nil {
		return outcome{}, err
	}
	defer lock.Release()

	// Another process may have finished while we waited.
	if p, ok := i.Store.Lookup(e); ok {
		return outcome{path: p, fingerprint: e.Fingerprint}, nil
	}
	return i.fetch(ctx, e)
}

func (i *Installer) fetch(ctx context.Context, e manifest.LockEntry) (outcome, error) {
	staging, err := i.Store.newStaging(e.Name)
	if err != nil {
		return outcome{}, err
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(staging) // best-effort cleanup of a failed fetch
		}
	}()

	rc, err := i.Client.FetchSource(ctx, e.Name, e.Version)
	if err != nil {
		return outcome{}, err
	}
	fp, err := extract(rc, staging)
	if closeErr := rc.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return outcome{}, err
	}

	expected := e.Fingerprint
	if expected == "" {
		// Nothing pinned: a second fetch must agree before the tree is trusted.
		again, err := i.fingerprintOnly(ctx, e)
		if err != nil {
			return outcome{}, err
		}
		expected = again
	}
	if fp != expected {
		return outcome{}, &FingerprintError{Name: e.Name, Version: e.Version.String(), Expected: expected, Actual: fp}
	}

	e.Fingerprint = fp
	final := i.Store.Path(e)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return outcome{}, err
	}
	if err := os.Rename(staging, final); err != nil {
		if _, statErr := os.Stat(final); statErr == nil {
			// Lost a race against an identical install.
			i.logger().Debug("install raced, using existing entry", "package", e.Name, "path", final)
			return outcome{path: final, fingerprint: fp, fetched: true}, nil
		}
		return outcome{}, fmt.Errorf("move into store: %w", err)
	}
	keep = true

	i.logger().Debug("installed package", "package", e.Name, "version", e.Version, "path", final)
	return outcome{path: final, fingerprint: fp, fetched: true}, nil
}

func (i *Installer) fingerprintOnly(ctx context.Context, e manifest.LockEntry) (manifest.Fingerprint, error) {
	rc, err := i.Client.FetchSource(ctx, e.Name, e.Version)
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	fp, err := registry.FingerprintTar(rc)
	if err != nil {
		return "", err
	}
	// Drain so the producer side of a pipe finishes cleanly.
	_, _ = io.Copy(io.Discard, rc)
	return fp, nil
}

func (i *Installer) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}
