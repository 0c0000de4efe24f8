// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the lunekit command-line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/config"
	"github.com/lunekit/lunekit/internal/logging"
	"github.com/lunekit/lunekit/internal/project"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

type (
	// App carries the global flags and the state every command shares.
	// Config and logger are loaded in the root's PersistentPreRunE.
	App struct {
		stdout io.Writer
		stderr io.Writer

		verbose bool
		cfgFile string
		dir     string

		configs config.Provider
		cfg     *config.Config
		cfgPath string
		logger  *slog.Logger
	}
)

func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewApp returns an App writing to stdout and stderr.
func NewApp(stdout, stderr io.Writer) *App {
	return &App{stdout: stdout, stderr: stderr, dir: ".", configs: config.NewProvider()}
}

// NewRootCommand builds the command tree bound to app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "lunekit",
		Short: "Package manager and standalone builder for lune projects",
		Long: TitleStyle.Render("lunekit") + SubtitleStyle.Render(" - package manager and standalone builder for lune projects") + `

lunekit resolves the packages a project declares in lunekit.toml against a
git-tag registry, pins them in lunekit.lock.cue, installs them into a shared
package store and bundles a script's module graph with the lune runtime into
a single executable.

` + SubtitleStyle.Render("Examples:") + `
  lunekit init                       Create lunekit.toml
  lunekit install discord@^1.2       Add and install a package
  lunekit build main.luau dist/game  Build a standalone executable
  lunekit explain graph-error        Show guidance for an error category`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.load(cmd.Context())
		},
	}
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	flags := root.PersistentFlags()
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&app.cfgFile, "config", "", "config file (default is <config dir>/lunekit/config.cue)")
	flags.StringVarP(&app.dir, "dir", "C", ".", "project directory")

	root.AddCommand(
		newInitCommand(app),
		newInstallCommand(app),
		newUpdateCommand(app),
		newBuildCommand(app),
		newDepsCommand(app),
		newVendorCommand(app),
		newInspectCommand(app),
		newStoreCommand(app),
		newConfigCommand(app),
		newExplainCommand(app),
	)
	return root
}

// load reads configuration and installs the logger.
func (a *App) load(ctx context.Context) error {
	cfg, path, err := a.configs.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
	if err != nil {
		return err
	}
	logger, err := logging.Setup(a.stderr, logging.Options{Level: string(cfg.LogLevel), Verbose: a.verbose})
	if err != nil {
		return err
	}
	a.cfg, a.cfgPath, a.logger = cfg, path, logger
	return nil
}

func (a *App) service() (*project.Service, error) {
	return project.New(a.dir, a.cfg, project.WithLogger(a.logger))
}

// Run executes lunekit with args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	app := NewApp(stdout, stderr)
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := fang.Execute(ctx, root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(func(w io.Writer, _ fang.Styles, err error) {
			renderError(w, err, app.verbose)
		}),
	)
	return exitCode(err)
}

// Execute runs lunekit with the process arguments and exits.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
