// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/pkg/bundle"
)

func newInspectCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <executable>",
		Short: "List the modules embedded in a built executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			b, err := bundle.Open(args[0])
			if err != nil {
				return issue.WrapWithContext(err, "inspect executable", args[0])
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("entry:"), CmdStyle.Render(b.Entry))
			t := newTable("MODULE", "SIZE")
			total := 0
			for _, r := range b.Records {
				total += len(r.Source)
				t.Row(r.ID, humanSize(len(r.Source)))
			}
			fmt.Fprintln(app.stdout, t.Render())
			fmt.Fprintf(app.stdout, "%d module(s), %s of source\n", len(b.Records), humanSize(total))
			return nil
		},
	}
}
