package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/services"
	"github.com/spf13/cobra"
)

// NewCreateAdminCommand creates the create-admin command.
func NewCreateAdminCommand(rootOpts *RootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user, or reset the password of an existing one",
		Long: `Create an admin user, or reset the password of an existing one.

The password may also be given through ADMIN_PASSWORD so it does not end up
in the shell history. A newly created admin must change it on first login.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("--password or ADMIN_PASSWORD is required")
			}
			if _, err := bootstrap(rootOpts, false); err != nil {
				return err
			}
			defer database.Close()

			users := services.NewUserService(database.DB)
			u, created, err := users.EnsureAdmin(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %q created\n", u.Username)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Admin %q updated\n", u.Username)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "admin", "admin username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password")
	return cmd
}
