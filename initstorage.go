package main

import (
	"github.com/spf13/cobra"

	"planner-api/config"
	"planner-api/storage"
)

func newInitStorageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-storage",
		Short: "Create the tables used by the configured store",
		RunE:  runInitStorage,
	}
}

func runInitStorage(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	logger.WithField("driver", cfg.StoreDriver).Info("storage init starting")

	switch cfg.StoreDriver {
	case config.DriverAzure:
		if err := storage.CreateTables(cmd.Context(), cfg.StorageConnectionString, []string{cfg.WeeksTable, cfg.TasksTable}); err != nil {
			return err
		}
	default:
		// Opening the database applies the schema.
		db, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}
	}

	logger.Info("storage init complete")
	return nil
}
