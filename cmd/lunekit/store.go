// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lunekit/lunekit/internal/issue"
	"github.com/lunekit/lunekit/pkg/store"
)

func newStoreCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and maintain the shared package store",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newStorePathCommand(app), newStoreListCommand(app), newStorePruneCommand(app))
	return cmd
}

func newStorePathCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the store directory",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore(app)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, st.Root())
			return nil
		},
	}
}

func newStoreListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed package trees",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore(app)
			if err != nil {
				return err
			}
			entries, err := st.Entries()
			if err != nil {
				return issue.WrapWithContext(err, "list store", st.Root())
			}
			if len(entries) == 0 {
				fmt.Fprintln(app.stdout, SubtitleStyle.Render("The store is empty."))
				return nil
			}
			t := newTable("PACKAGE", "VERSION", "FINGERPRINT")
			for _, e := range entries {
				t.Row(string(e.Name), e.Version, shortFingerprint(e.Fingerprint))
			}
			fmt.Fprintln(app.stdout, t.Render())
			return nil
		},
	}
}

func newStorePruneCommand(app *App) *cobra.Command {
	olderThan := store.StaleStagingAge
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove abandoned staging directories",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			st, err := openStore(app)
			if err != nil {
				return err
			}
			n, err := st.Prune(olderThan)
			if err != nil {
				return issue.WrapWithContext(err, "prune store", st.Root())
			}
			fmt.Fprintf(app.stdout, "%s Removed %d staging dir(s)\n", SuccessStyle.Render(iconSuccess), n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", olderThan, "only remove staging directories older than this")
	return cmd
}

func openStore(app *App) (*store.Store, error) {
	svc, err := app.service()
	if err != nil {
		return nil, err
	}
	st, err := svc.Store()
	if err != nil {
		return nil, issue.WrapWithContext(err, "open store", app.cfg.StoreDir)
	}
	return st, nil
}

// shortFingerprint trims a "sha256:<hex>" fingerprint to 12 hex digits.
func shortFingerprint(fp string) string {
	const keep = len("sha256:") + 12
	if len(fp) > keep {
		return fp[:keep]
	}
	return fp
}
