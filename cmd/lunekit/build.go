// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/project"
	"github.com/lunekit/lunekit/internal/runtimes"
	"github.com/lunekit/lunekit/internal/watch"
	"github.com/lunekit/lunekit/pkg/modgraph"
)

func newBuildCommand(app *App) *cobra.Command {
	var (
		target   string
		watching bool
	)
	cmd := &cobra.Command{
		Use:   "build <entry> <output>",
		Short: "Bundle a script and its requires into a standalone executable",
		Long: `Bundle a script and its requires into a standalone executable.

The locked packages are installed if needed; the resolver never runs. The
module graph is walked from <entry>, and every reached module is appended to
the lune runtime for the target platform.

Targets: ` + strings.Join(targetNames(), ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			opts := project.BuildOptions{Entry: args[0], Output: args[1], Target: target}
			if watching {
				return svc.Watch(cmd.Context(), opts, watch.DefaultDebounce, func(r *project.BuildReport, changed []string, err error) {
					if len(changed) > 0 {
						fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("changed:"), strings.Join(changed, ", "))
					}
					if err != nil {
						renderError(app.stderr, issue.WrapWithContext(err, "build", args[0]), app.verbose)
						return
					}
					printBuild(app, r)
				})
			}
			r, err := svc.Build(cmd.Context(), opts)
			if err != nil {
				return issue.WrapWithContext(err, "build", args[0])
			}
			printBuild(app, r)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target platform (default is the host)")
	cmd.Flags().BoolVarP(&watching, "watch", "w", false, "rebuild when project sources change")
	return cmd
}

func printBuild(app *App, r *project.BuildReport) {
	for _, d := range r.Graph.Diagnostics {
		style := WarningStyle
		if d.Severity == modgraph.SeverityError {
			style = ErrorStyle
		}
		fmt.Fprintln(app.stderr, style.Render(d.String()))
	}
	fmt.Fprintf(app.stdout, "%s Built %s (%d modules, %s)\n",
		SuccessStyle.Render(iconSuccess), CmdStyle.Render(r.Output), len(r.Bundle.Records), r.Target)
}

func targetNames() []string {
	ts := runtimes.Targets()
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
