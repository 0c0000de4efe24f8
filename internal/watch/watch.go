// SPDX-License-Identifier: MPL-2.0

// Package watch reruns a build when project sources change.
//
// A Watcher registers every non-ignored directory under a project root with
// fsnotify, filters events through doublestar patterns and calls OnChange
// once per quiet period with the sorted set of changed paths. Changes that
// arrive while OnChange is running are queued for one follow-up call.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period used when Options.Debounce is unset.
const DefaultDebounce = 300 * time.Millisecond

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("watcher already running")

type (
	// Options configures a Watcher.
	Options struct {
		// Root is the project directory. Empty means the working directory.
		Root string
		// Patterns select the files that trigger a rebuild, relative to Root.
		// Empty means DefaultPatterns.
		Patterns []string
		// Ignore is merged with DefaultIgnores.
		Ignore []string
		// Debounce is the quiet period before OnChange fires.
		Debounce time.Duration
		// OnChange receives the changed paths relative to Root, slash
		// separated and sorted. Its error is logged, not returned.
		OnChange func(ctx context.Context, changed []string) error
		Logger   *slog.Logger
	}

	// Watcher watches a project tree. Run must be called once.
	Watcher struct {
		opts    Options
		root    string
		filter  *filter
		fsw     *fsnotify.Watcher
		log     *slog.Logger
		started atomic.Bool
	}
)

// New validates opts and registers the directory tree under Root.
func New(opts Options) (*Watcher, error) {
	root := opts.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: working directory: %w", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	f, err := newFilter(patterns, append(DefaultIgnores(), opts.Ignore...))
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}
	w := &Watcher{opts: opts, root: root, filter: f, fsw: fsw, log: log.With("component", "watch")}
	if err := w.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute directory being watched.
func (w *Watcher) Root() string { return w.root }

// Run processes events until ctx is canceled. It returns nil on
// cancellation and an error when the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.log.Debug("close watcher", "err", err)
		}
	}()

	var (
		pending = make(map[string]struct{})
		timer   = time.NewTimer(time.Hour)
		fire    <-chan time.Time
		busy    chan struct{} // closed when the running OnChange returns
		queued  bool
	)
	timer.Stop()
	defer timer.Stop()

	start := func() {
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		queued = false
		done := make(chan struct{})
		busy = done
		go func() {
			defer close(done)
			w.log.Debug("change detected", "files", changed)
			if w.opts.OnChange == nil {
				return
			}
			if err := w.opts.OnChange(ctx, changed); err != nil && ctx.Err() == nil {
				w.log.Warn("rebuild failed", "err", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if busy != nil {
				<-busy
			}
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name)
			}
			rel, ok := w.relevant(evt.Name)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			timer.Reset(w.opts.Debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			if busy != nil {
				queued = true
				continue
			}
			if len(pending) > 0 {
				start()
			}

		case <-busy:
			busy = nil
			if queued && len(pending) > 0 {
				start()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if isFatal(err) {
				return fmt.Errorf("watch: %w", err)
			}
			w.log.Warn("watch error", "err", err)
		}
	}
}

// relevant maps an event path to its root-relative slash form and reports
// whether it should trigger a rebuild.
func (w *Watcher) relevant(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if w.filter.ignored(rel) || !w.filter.selected(rel) {
		return "", false
	}
	return rel, true
}

func (w *Watcher) addTree(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Debug("skip unreadable path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, rerr := filepath.Rel(w.root, path); rerr == nil && rel != "." && w.filter.ignoredDir(filepath.ToSlash(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch: walk %s: %w", dir, err)
	}
	return nil
}

// maybeAddDir extends the watch to a directory created after New.
func (w *Watcher) maybeAddDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(path); err != nil {
		w.log.Warn("watch new directory", "path", path, "err", err)
	}
}
