package cli

import (
	"fmt"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := bootstrap(rootOpts, false); err != nil {
				return err
			}
			defer database.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Database schema is up to date")
			return nil
		},
	}
}
