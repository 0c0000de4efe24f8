// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/internal/project"
)

func newInstallCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "install [name[@constraint]...]",
		Short: "Resolve and install the project's packages",
		Long: `Resolve and install the project's packages.

Named packages are added to lunekit.toml first. A name without a constraint
is pinned to a caret on its newest release. The existing lockfile is reused
unchanged when lunekit.toml has not changed since it was written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			report, err := svc.Install(cmd.Context(), args)
			if err != nil {
				return issue.WrapWithContext(err, "install packages", svc.Dir())
			}
			for _, spec := range report.Added {
				fmt.Fprintf(app.stdout, "%s %s %s\n", SuccessStyle.Render(iconAdded), CmdStyle.Render(string(spec.Name)), spec.Constraint)
			}
			printInstallSummary(app, report)
			return nil
		},
	}
}

func newUpdateCommand(app *App) *cobra.Command {
	var opts project.UpdateOptions
	cmd := &cobra.Command{
		Use:   "update [name...]",
		Short: "Re-resolve packages ignoring their locked versions",
		Long: `Re-resolve packages ignoring their locked versions.

Without names every package is re-resolved. With --bump the constraint of
each updated dependency in lunekit.toml is raised to a caret on the newly
selected version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			opts.Names = args
			report, changes, err := svc.Update(cmd.Context(), opts)
			if err != nil {
				return issue.WrapWithContext(err, "update packages", svc.Dir())
			}
			if len(changes) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("Everything is up to date."))
			}
			for _, c := range changes {
				from, to := orNone(c.From), orNone(c.To)
				fmt.Fprintf(app.stdout, "  %s %s %s %s\n", CmdStyle.Render(string(c.Name)), from, iconArrow, to)
			}
			printInstallSummary(app, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Bump, "bump", false, "rewrite manifest constraints to the selected versions")
	return cmd
}

func printInstallSummary(app *App, r *project.InstallReport) {
	state := "resolved"
	if r.Reused {
		state = "lockfile up to date"
	}
	fmt.Fprintf(app.stdout, "%s %d package(s) locked, %s (%d fetched, %d cached)\n",
		SuccessStyle.Render(iconSuccess), len(r.Lock.Packages), state, r.Fetched, r.Cached)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
