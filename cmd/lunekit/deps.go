// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/pkg/manifest"
)

func newDepsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "List the locked packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			deps, err := svc.Deps()
			if err != nil {
				return issue.WrapWithContext(err, "list dependencies", svc.Dir())
			}
			if len(deps) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("No locked packages. Run 'lunekit install'."))
				return nil
			}
			t := newTable("PACKAGE", "VERSION", "KIND", "SOURCE", "PATH")
			for _, d := range deps {
				kind := "transitive"
				if d.Direct {
					kind = "direct"
				}
				path := d.Path
				if path == "" {
					path = WarningStyle.Render("not installed")
				}
				t.Row(string(d.Name), d.Version, kind, d.Source, path)
			}
			fmt.Fprintln(app.stdout, t.Render())
			return nil
		},
	}
}

func newVendorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "vendor",
		Short: "Copy locked packages into lune_packages and point .luaurc at them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := app.service()
			if err != nil {
				return err
			}
			dirs, err := svc.Vendor(cmd.Context())
			if err != nil {
				return issue.WrapWithContext(err, "vendor packages", svc.Dir())
			}
			names := make([]manifest.PackageName, 0, len(dirs))
			for n := range dirs {
				names = append(names, n)
			}
			slices.Sort(names)
			for _, n := range names {
				fmt.Fprintf(app.stdout, "  %s %s %s\n", CmdStyle.Render(string(n)), iconArrow, dirs[n])
			}
			fmt.Fprintf(app.stdout, "%s Vendored %d package(s)\n", SuccessStyle.Render(iconSuccess), len(names))
			return nil
		},
	}
}

// newTable returns a borderless table with styled headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

func humanSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
