// SPDX-License-Identifier: MPL-2.0

// Package logging wires a charmbracelet/log handler behind log/slog.
// Library packages log through slog and never import this package.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/log"
)

// DefaultLevel applies when neither --verbose nor log_level say otherwise.
const DefaultLevel = "warn"

// Options configures the process logger.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means DefaultLevel.
	Level string
	// Verbose forces debug output regardless of Level.
	Verbose bool
}

// New returns a slog.Logger that renders through charmbracelet/log.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	level := opts.Level
	if level == "" {
		level = DefaultLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	if opts.Verbose {
		lvl = log.DebugLevel
	}
	h := log.NewWithOptions(w, log.Options{
		Prefix:          "lunekit",
		Level:           lvl,
		ReportTimestamp: opts.Verbose,
	})
	return slog.New(h), nil
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(w io.Writer, opts Options) (*slog.Logger, error) {
	l, err := New(w, opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l)
	return l, nil
}
