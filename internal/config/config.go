// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "lunekit"
	// ConfigFileName is the config file name.
	ConfigFileName = "config.cue"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "LUNEKIT"
)

//go:embed config_schema.cue
var configSchema []byte

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
}

// ConfigDir returns the lunekit configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS
// and $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// DefaultStoreDir is ~/.lunekit/store.
func DefaultStoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "."+AppName, "store"), nil
}

// DefaultCacheDir is the user cache directory plus "lunekit".
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

// Load reads the configuration and returns it with the path of the file it
// came from ("" when only defaults and the environment apply).
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("load config canceled: %w", err)
	}

	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, "", err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, explicit := opts.ConfigFilePath, opts.ConfigFilePath != ""
	if !explicit {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, "", err
			}
		}
		path = filepath.Join(dir, ConfigFileName)
	}

	resolved := ""
	switch _, err := os.Stat(path); {
	case err == nil:
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Run 'lunekit config show' to see the accepted keys and defaults").
				Wrap(err).
				BuildError()
		}
		resolved = path
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			Wrap(err).
			BuildError()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.StoreDir = expandHome(cfg.StoreDir)
	cfg.CacheDir = expandHome(cfg.CacheDir)
	cfg.Runtime.Dir = expandHome(cfg.Runtime.Dir)
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolved).
			WithSuggestion("Check LUNEKIT_* environment variables for typos").
			Wrap(err).
			BuildError()
	}
	return &cfg, resolved, nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

func setDefaults(v *viper.Viper) error {
	d := DefaultConfig()
	store, err := DefaultStoreDir()
	if err != nil {
		return err
	}
	cache, err := DefaultCacheDir()
	if err != nil {
		return err
	}
	v.SetDefault("store_dir", store)
	v.SetDefault("cache_dir", cache)
	v.SetDefault("registry", d.Registry)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("retry.attempts", d.Retry.Attempts)
	v.SetDefault("retry.base_backoff", d.Retry.BaseBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.request_timeout", d.Retry.RequestTimeout)
	v.SetDefault("graph.cycles", string(d.Graph.Cycles))
	v.SetDefault("graph.unresolved", string(d.Graph.Unresolved))
	v.SetDefault("graph.builtin_prefixes", d.Graph.BuiltinPrefixes)
	v.SetDefault("runtime.dir", d.Runtime.Dir)
	v.SetDefault("runtime.repo", d.Runtime.Repo)
	v.SetDefault("runtime.version", d.Runtime.Version)
	v.SetDefault("runtime.search_path", d.Runtime.SearchPath)
	v.SetDefault("log_level", string(d.LogLevel))
	return nil
}

// loadCUEIntoViper validates the file at path against #Config and merges
// it into v, keeping defaults for absent keys.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	res, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithConcrete(false), cueutil.WithFilename(path))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// lunekit configuration\n\n")
	fmt.Fprintf(&sb, "store_dir: %q\n", cfg.StoreDir)
	fmt.Fprintf(&sb, "cache_dir: %q\n", cfg.CacheDir)
	fmt.Fprintf(&sb, "registry:  %q\n", cfg.Registry)
	fmt.Fprintf(&sb, "workers:   %d\n", cfg.Workers)

	sb.WriteString("\nretry: {\n")
	fmt.Fprintf(&sb, "\tattempts:        %d\n", cfg.Retry.Attempts)
	fmt.Fprintf(&sb, "\tbase_backoff:    %q\n", cfg.Retry.BaseBackoff.String())
	fmt.Fprintf(&sb, "\tmax_backoff:     %q\n", cfg.Retry.MaxBackoff.String())
	fmt.Fprintf(&sb, "\trequest_timeout: %q\n", cfg.Retry.RequestTimeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\ngraph: {\n")
	fmt.Fprintf(&sb, "\tcycles:     %q\n", cfg.Graph.Cycles)
	fmt.Fprintf(&sb, "\tunresolved: %q\n", cfg.Graph.Unresolved)
	sb.WriteString("\tbuiltin_prefixes: [")
	for i, p := range cfg.Graph.BuiltinPrefixes {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", p)
	}
	sb.WriteString("]\n}\n")

	sb.WriteString("\nruntime: {\n")
	fmt.Fprintf(&sb, "\tdir:         %q\n", cfg.Runtime.Dir)
	fmt.Fprintf(&sb, "\trepo:        %q\n", cfg.Runtime.Repo)
	fmt.Fprintf(&sb, "\tversion:     %q\n", cfg.Runtime.Version)
	fmt.Fprintf(&sb, "\tsearch_path: %v\n", cfg.Runtime.SearchPath)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nlog_level: %q\n", cfg.LogLevel)
	return sb.String()
}
