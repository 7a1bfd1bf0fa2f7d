package cli

import (
	"fmt"

	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/services"
	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a backup archive, upload it and apply retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap(rootOpts, true)
			if err != nil {
				return err
			}
			defer database.Close()

			res, err := services.NewBackupService(database.DB, cfg.Backup).Create(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup %s (%s)\n", res.File.Name, res.File.SizeHuman)
			for _, u := range res.Uploaded {
				fmt.Fprintf(out, "  uploaded to %s\n", u)
			}
			if res.Error != "" {
				return fmt.Errorf("backup written with errors: %s", res.Error)
			}
			return nil
		},
	}
}
