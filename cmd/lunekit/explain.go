// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
)

func newExplainCommand(app *App) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "explain [category]",
		Short: "Show guidance for an error category",
		Long: `Show guidance for an error category.

Failed commands print their category, for example "Error [no-match]".
Without an argument the known categories are listed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(app.stdout, TitleStyle.Render("Error categories"))
				for _, name := range issue.Names() {
					i, err := issue.Lookup(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(app.stdout, "  %-24s %s\n", CmdStyle.Render(name), SubtitleStyle.Render(i.Title()))
				}
				return nil
			}
			i, err := issue.Lookup(args[0])
			if err != nil {
				return err
			}
			out, err := i.Render(style)
			if err != nil {
				return fmt.Errorf("render guidance: %w", err)
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&style, "style", "auto", "glamour style: auto, dark, light, notty or a style file")
	return cmd
}
