// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	"path/filepath"
	"time"

	"github.com/lunekit/lunekit/internal/watch"
)

// BuildFunc receives the outcome of every build in watch mode.
type BuildFunc func(report *BuildReport, changed []string, err error)

// Watch builds once and then rebuilds whenever a project source changes,
// until ctx is canceled. Build failures are reported to onBuild and do not
// stop the loop. The output file is never watched.
func (s *Service) Watch(ctx context.Context, opts BuildOptions, debounce time.Duration, onBuild BuildFunc) error {
	ignore := []string{}
	if rel, err := filepath.Rel(s.dir, s.path(opts.Output)); err == nil && filepath.IsLocal(rel) {
		ignore = append(ignore, filepath.ToSlash(rel))
	}

	w, err := watch.New(watch.Options{
		Root:     s.dir,
		Ignore:   ignore,
		Debounce: debounce,
		Logger:   s.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			report, err := s.Build(ctx, opts)
			onBuild(report, changed, err)
			return nil
		},
	})
	if err != nil {
		return err
	}

	report, err := s.Build(ctx, opts)
	onBuild(report, nil, err)
	return w.Run(ctx)
}
