package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/config"
)

// Opener builds the application a command operates on
type Opener func(ctx context.Context) (*app.App, error)

// DefaultOpener loads configuration from the environment and connects
func DefaultOpener(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, nil)
}

// NewRootCommand creates the storefront-admin root command
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront-admin",
		Short:         "Storefront administration: migrations, plan imports, roles and payment reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCommand(open),
		newPlansCommand(open),
		newProfilesCommand(open),
		newOrdersCommand(open),
	)
	return root
}

// withApp opens the application for the duration of fn
func withApp(cmd *cobra.Command, open Opener, fn func(a *app.App) error) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
