package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markwave/chatvault/db"
	dbpkg "github.com/markwave/chatvault/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|version|force N>",
		Short: "Apply or inspect the database schema",
		Long: `Apply or inspect the Postgres schema embedded in the binary.

Examples:
  chatvault migrate up
  chatvault migrate version
  chatvault migrate force 2`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			migrations, err := db.Migrations()
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			return dbpkg.RunMigrate(log, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}
