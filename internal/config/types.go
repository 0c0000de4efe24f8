// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/lunekit/lunekit/pkg/modgraph"
)

// Log levels.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrInvalidLogLevel is returned for an unknown log level.
	ErrInvalidLogLevel = errors.New("invalid log level")
)

type (
	// LogLevel is the minimum level written to stderr.
	LogLevel string

	// InvalidConfigError reports a config value that fails validation.
	InvalidConfigError struct {
		Key string
		Err error
	}

	// Config is the effective lunekit configuration.
	Config struct {
		StoreDir string        `json:"store_dir" mapstructure:"store_dir"`
		CacheDir string        `json:"cache_dir" mapstructure:"cache_dir"`
		Registry string        `json:"registry" mapstructure:"registry"`
		Workers  int           `json:"workers" mapstructure:"workers"`
		Retry    RetryConfig   `json:"retry" mapstructure:"retry"`
		Graph    GraphConfig   `json:"graph" mapstructure:"graph"`
		Runtime  RuntimeConfig `json:"runtime" mapstructure:"runtime"`
		LogLevel LogLevel      `json:"log_level" mapstructure:"log_level"`
	}

	// RetryConfig tunes registry retries.
	RetryConfig struct {
		Attempts       int           `json:"attempts" mapstructure:"attempts"`
		BaseBackoff    time.Duration `json:"base_backoff" mapstructure:"base_backoff"`
		MaxBackoff     time.Duration `json:"max_backoff" mapstructure:"max_backoff"`
		RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	}

	// GraphConfig sets the module graph policies.
	GraphConfig struct {
		Cycles          modgraph.CyclePolicy      `json:"cycles" mapstructure:"cycles"`
		Unresolved      modgraph.UnresolvedPolicy `json:"unresolved" mapstructure:"unresolved"`
		BuiltinPrefixes []string                  `json:"builtin_prefixes" mapstructure:"builtin_prefixes"`
	}

	// RuntimeConfig says where runtime executables come from.
	RuntimeConfig struct {
		// Dir holds prebuilt runtimes as <dir>/<target>/lune[.exe].
		Dir string `json:"dir" mapstructure:"dir"`
		// Repo is the GitHub owner/name publishing runtime releases. Empty
		// disables downloads.
		Repo string `json:"repo" mapstructure:"repo"`
		// Version pins the runtime release. Empty means latest.
		Version    string `json:"version" mapstructure:"version"`
		SearchPath bool   `json:"search_path" mapstructure:"search_path"`
	}
)

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Key, e.Err)
}

// Unwrap returns ErrInvalidConfig and the cause.
func (e *InvalidConfigError) Unwrap() []error { return []error{ErrInvalidConfig, e.Err} }

// Validate returns an error if l is not a known level.
func (l LogLevel) Validate() error {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidLogLevel, l)
}

// DefaultConfig returns the built-in defaults. Directory defaults are filled
// in by Load, since they depend on the environment.
func DefaultConfig() *Config {
	return &Config{
		Workers: 8,
		Retry: RetryConfig{
			Attempts:       3,
			BaseBackoff:    500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Graph: GraphConfig{
			Cycles:          modgraph.CyclesWarn,
			Unresolved:      modgraph.UnresolvedWarn,
			BuiltinPrefixes: []string{"@lune"},
		},
		Runtime: RuntimeConfig{
			Repo:       "lune-org/lune",
			SearchPath: true,
		},
		LogLevel: LogLevelWarn,
	}
}

// Validate checks values the schema cannot, such as those from environment
// overrides.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, &InvalidConfigError{Key: "workers", Err: fmt.Errorf("must be at least 1, got %d", c.Workers)})
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, &InvalidConfigError{Key: "retry.attempts", Err: fmt.Errorf("must be at least 1, got %d", c.Retry.Attempts)})
	}
	if err := c.Graph.Cycles.Validate(); err != nil {
		errs = append(errs, &InvalidConfigError{Key: "graph.cycles", Err: err})
	}
	if err := c.Graph.Unresolved.Validate(); err != nil {
		errs = append(errs, &InvalidConfigError{Key: "graph.unresolved", Err: err})
	}
	if err := c.LogLevel.Validate(); err != nil {
		errs = append(errs, &InvalidConfigError{Key: "log_level", Err: err})
	}
	return errors.Join(errs...)
}
