// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/config"
	"github.com/lunekit/lunekit/internal/fsutil"
	"github.com/lunekit/lunekit/internal/issue"
)

// ErrConfigExists is returned by 'config init' when the file is present.
var ErrConfigExists = errors.New("config file already exists")

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and create the lunekit configuration",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as CUE",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				fmt.Fprint(app.stdout, config.GenerateCUE(app.cfg))
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the effective configuration to the config file",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				path, err := app.configPath()
				if err != nil {
					return err
				}
				if _, err := os.Stat(path); err == nil {
					return issue.WrapWithContext(ErrConfigExists, "create configuration", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return issue.WrapWithContext(err, "create configuration", path)
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return issue.WrapWithContext(err, "create configuration", path)
				}
				if err := fsutil.WriteFileAtomic(path, []byte(config.GenerateCUE(app.cfg)), 0o644); err != nil {
					return issue.WrapWithContext(err, "create configuration", path)
				}
				fmt.Fprintf(app.stdout, "%s Wrote %s\n", SuccessStyle.Render(iconSuccess), CmdStyle.Render(path))
				return nil
			},
		},
	)
	return cmd
}

// configPath is the file in use: --config, the loaded file or the default.
func (a *App) configPath() (string, error) {
	switch {
	case a.cfgFile != "":
		return a.cfgFile, nil
	case a.cfgPath != "":
		return a.cfgPath, nil
	}
	return config.ConfigPath()
}
