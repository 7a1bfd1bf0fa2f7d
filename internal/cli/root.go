package cli

import (
	"fmt"
	"os"

	"github.com/hotspotbill/backend/internal/config"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/logger"
	"github.com/hotspotbill/backend/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
}

// NewRootCommand creates the hotspotbill command. Without a subcommand it
// runs the API server.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	serve := NewServeCommand(opts)
	cmd := &cobra.Command{
		Use:           "hotspotbill",
		Short:         "Hotspot voucher and PPPoE billing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(serve)
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewCreateAdminCommand(opts))

	return cmd
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads config, sets up logging, connects and migrates the database
func bootstrap(opts *RootOptions, fileLogs bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	dir := cfg.LogDir
	if !fileLogs {
		dir = ""
	}
	if err := logger.Init(dir, cfg.LogLevel, cfg.LogRetention); err != nil {
		log.WithError(err).Warn("File logging disabled")
	}

	if err := database.Connect(cfg); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := models.AutoMigrate(database.DB); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, nil
}
