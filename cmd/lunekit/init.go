// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/project"
	"github.com/lunekit/lunekit/pkg/manifest"
)

func newInitCommand(app *App) *cobra.Command {
	var opts project.InitOptions
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create lunekit.toml, an empty lockfile and .luaurc",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			m, err := svc.Init(cmd.Context(), opts)
			if err != nil {
				return issue.WrapWithContext(err, "initialize project", svc.Dir())
			}
			fmt.Fprintf(app.stdout, "%s Initialized %s in %s\n", SuccessStyle.Render(iconSuccess), CmdStyle.Render(m.Name), svc.Dir())
			fmt.Fprintf(app.stdout, "  Created %s, %s and %s\n", manifest.FileName, manifest.LockFileName, manifest.LuaurcFileName)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name (default is the directory name)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "project description")
	return cmd
}
