package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/frontdesk/internal/config"
	"github.com/zulandar/frontdesk/internal/db"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the journal tables",
		Long:  "Connects to the configured journal database and migrates its tables. Safe to run multiple times.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to desk config file")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectJournal(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Journal.Driver)
	return nil
}

// connectJournal loads the config and opens the journal database. It fails
// when journaling is disabled.
func connectJournal(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Journal)
	if err != nil {
		return nil, nil, err
	}
	if gormDB == nil {
		return nil, nil, fmt.Errorf("journal is disabled in %s (set journal.driver)", configPath)
	}
	return cfg, gormDB, nil
}
