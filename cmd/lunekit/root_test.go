// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lunekit/lunekit/internal/config"
)

type stubConfigs struct {
	cfg *config.Config
	err error
}

func (s stubConfigs) Load(context.Context, config.LoadOptions) (*config.Config, string, error) {
	return s.cfg, "/etc/lunekit/config.cue", s.err
}

func execute(t *testing.T, app *App, args ...string) error {
	t.Helper()
	root := NewRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func TestRoot_LoadsConfigThroughProvider(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg := config.DefaultConfig()
	cfg.Workers = 13
	app := NewApp(&out, &bytes.Buffer{})
	app.configs = stubConfigs{cfg: cfg}

	if err := execute(t, app, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out.String(), "workers:   13") {
		t.Errorf("output does not reflect the provided config:\n%s", out.String())
	}

	out.Reset()
	if err := execute(t, app, "config", "path"); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "/etc/lunekit/config.cue" {
		t.Errorf("config path = %q", got)
	}
}

func TestRoot_ConfigErrorStopsCommand(t *testing.T) {
	t.Parallel()

	boom := errors.New("broken config")
	var out bytes.Buffer
	app := NewApp(&out, &bytes.Buffer{})
	app.configs = stubConfigs{err: boom}

	if err := execute(t, app, "explain"); !errors.Is(err, boom) {
		t.Errorf("error = %v, want the provider error", err)
	}
	if out.Len() != 0 {
		t.Errorf("command ran despite the config error: %q", out.String())
	}
}

func TestRoot_Commands(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(NewApp(&bytes.Buffer{}, &bytes.Buffer{}))
	for _, name := range []string{"init", "install", "update", "build", "deps", "vendor", "inspect", "store", "config", "explain"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, flag := range []string{"verbose", "config", "dir"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("global flag --%s missing", flag)
		}
	}
}
