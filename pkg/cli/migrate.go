package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/database"
)

// newMigrateCommand applies migrations for deployments that run with
// auto_migrate off, then prints the schema version
func newMigrateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if err := database.RunMigrations(cmd.Context(), a.DB, a.Config.Database.Driver, a.Logger); err != nil {
					return err
				}
				version, err := database.AppliedVersion(cmd.Context(), a.DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Database at migration version %d\n", version)
				return nil
			})
		},
	}
}
