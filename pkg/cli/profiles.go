package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakconstructions/storefront/pkg/app"
	"github.com/sakconstructions/storefront/pkg/profiles"
)

func newProfilesCommand(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage buyer and admin profiles",
	}
	cmd.AddCommand(
		newSetRoleCommand(open, "grant-admin", "Give a profile the admin role", profiles.RoleAdmin),
		newSetRoleCommand(open, "revoke-admin", "Return an admin profile to the user role", profiles.RoleUser),
	)
	return cmd
}

// newSetRoleCommand looks a profile up by email and sets its role
func newSetRoleCommand(open Opener, use, short string, role profiles.Role) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				p, err := a.Profiles.GetByEmail(cmd.Context(), args[0])
				if errors.Is(err, profiles.ErrProfileNotFound) {
					return fmt.Errorf("no profile for %s; the user must sign in once first", args[0])
				}
				if err != nil {
					return err
				}

				updated, err := a.Profiles.SetRole(cmd.Context(), p.ID, role)
				if err != nil {
					return err
				}
				a.Logger.WithFields(map[string]interface{}{
					"profile_id": updated.ID,
					"role":       updated.Role,
				}).Info("Profile role changed from CLI")
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", updated.Email, updated.Role)
				return nil
			})
		},
	}
}
