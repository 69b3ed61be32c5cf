package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agenda/backend/internal/store/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back database migrations",
		Long:      "Apply all pending migrations (up) or roll back the most recent one (down).",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.MigrateUp), string(postgres.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("agenda-migrate")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			db, err := openDatabase(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			if err := postgres.Migrate(db.DB, postgres.MigrateDirection(args[0]), log); err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			return nil
		},
	}
}
