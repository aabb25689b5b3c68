package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"taskflow/internal/config"
	"taskflow/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		gdb, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if err := db.AutoMigrateAndIndexes(gdb); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}
