// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/testutil"
	"github.com/lunekit/lunekit/pkg/modgraph"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Cleanup(testutil.SetHomeDir(t, home))

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want none", path)
	}
	if cfg.StoreDir != filepath.Join(home, ".lunekit", "store") {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
	if cfg.Workers != 8 || cfg.Retry.Attempts != 3 || cfg.Retry.BaseBackoff != 500*time.Millisecond {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Graph.Cycles != modgraph.CyclesWarn || cfg.LogLevel != LogLevelWarn {
		t.Errorf("graph/log defaults = %+v / %s", cfg.Graph, cfg.LogLevel)
	}
	if len(cfg.Graph.BuiltinPrefixes) != 1 || cfg.Graph.BuiltinPrefixes[0] != "@lune" {
		t.Errorf("BuiltinPrefixes = %v", cfg.Graph.BuiltinPrefixes)
	}
}

func TestLoad_File(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))

	dir := writeConfig(t, `
store_dir: "~/lk-store"
workers: 2
retry: {
	attempts: 5
	request_timeout: "90s"
}
graph: {
	cycles: "error"
	builtin_prefixes: ["@lune", "@roblox"]
}
runtime: version: "0.8.9"
`)
	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != filepath.Join(dir, ConfigFileName) {
		t.Errorf("path = %q", path)
	}
	home, _ := os.UserHomeDir()
	if cfg.StoreDir != filepath.Join(home, "lk-store") {
		t.Errorf("StoreDir = %q, want ~ expanded", cfg.StoreDir)
	}
	if cfg.Workers != 2 || cfg.Retry.Attempts != 5 || cfg.Retry.RequestTimeout != 90*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Retry.MaxBackoff != 8*time.Second {
		t.Errorf("MaxBackoff = %v, want default kept", cfg.Retry.MaxBackoff)
	}
	if cfg.Graph.Cycles != modgraph.CyclesError || len(cfg.Graph.BuiltinPrefixes) != 2 {
		t.Errorf("Graph = %+v", cfg.Graph)
	}
	if cfg.Runtime.Version != "0.8.9" || cfg.Runtime.Repo != "lune-org/lune" {
		t.Errorf("Runtime = %+v", cfg.Runtime)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))
	dir := writeConfig(t, "workers: 2\n")
	t.Cleanup(testutil.MustSetenv(t, "LUNEKIT_WORKERS", "16"))
	t.Cleanup(testutil.MustSetenv(t, "LUNEKIT_GRAPH_UNRESOLVED", "error"))
	t.Cleanup(testutil.MustSetenv(t, "LUNEKIT_RETRY_BASE_BACKOFF", "2s"))

	cfg, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 16 {
		t.Errorf("Workers = %d, want env value 16", cfg.Workers)
	}
	if cfg.Graph.Unresolved != modgraph.UnresolvedError {
		t.Errorf("Unresolved = %q", cfg.Graph.Unresolved)
	}
	if cfg.Retry.BaseBackoff != 2*time.Second {
		t.Errorf("BaseBackoff = %v", cfg.Retry.BaseBackoff)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))
	t.Cleanup(testutil.MustSetenv(t, "LUNEKIT_GRAPH_CYCLES", "sometimes"))

	_, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, modgraph.ErrInvalidPolicy) {
		t.Errorf("Load() error = %v, want invalid cycle policy", err)
	}
}

func TestLoad_SchemaViolations(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))

	for name, body := range map[string]string{
		"unknown key":  "colour: \"blue\"\n",
		"bad workers":  "workers: 0\n",
		"bad duration": "retry: base_backoff: \"soon\"\n",
		"bad policy":   "graph: cycles: \"sometimes\"\n",
		"bad prefix":   "graph: builtin_prefixes: [\"lune\"]\n",
		"syntax":       "workers: {\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: writeConfig(t, body)})
			var ae *issue.ActionableError
			if !errors.As(err, &ae) {
				t.Fatalf("Load() error = %v, want ActionableError", err)
			}
			if !strings.HasSuffix(ae.Resource, ConfigFileName) {
				t.Errorf("Resource = %q", ae.Resource)
			}
		})
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))

	_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want not-exist", err)
	}
}

func TestGenerateCUE_RoundTrips(t *testing.T) {
	t.Cleanup(testutil.SetHomeDir(t, t.TempDir()))

	cfg := DefaultConfig()
	cfg.StoreDir = "/srv/lunekit/store"
	cfg.CacheDir = "/srv/lunekit/cache"
	cfg.Graph.Unresolved = modgraph.UnresolvedError

	dir := writeConfig(t, GenerateCUE(cfg))
	got, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load(GenerateCUE()) error = %v", err)
	}
	if got.StoreDir != cfg.StoreDir || got.Graph.Unresolved != modgraph.UnresolvedError || got.Retry != cfg.Retry {
		t.Errorf("round trip = %+v", got)
	}
}

func TestConfigDirOverride(t *testing.T) {
	SetConfigDirOverride("/tmp/lunekit-config")
	t.Cleanup(Reset)

	p, err := ConfigPath()
	if err != nil || p != filepath.Join("/tmp/lunekit-config", ConfigFileName) {
		t.Errorf("ConfigPath() = %q, %v", p, err)
	}
}
