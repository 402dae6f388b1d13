package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"hrplatform/backend/internal/config"
	"hrplatform/backend/internal/logging"
	"hrplatform/backend/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logging.NewLogger()

		pool, err := pgxpool.New(cmd.Context(), cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()

		if err := repository.Migrate(cmd.Context(), pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		log.Info("schema applied", "database", cfg.DB.Name)
		return nil
	},
}
