package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-api/internal/config"
	"github.com/i474232898/weather-api/internal/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if cfg.StoreDriver != config.StorePostgres {
			return errors.Errorf("migrate needs STORE_DRIVER=postgres, got %q", cfg.StoreDriver)
		}
		pg, err := postgres.Open(postgres.Options{DSN: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.Migrate(context.Background()); err != nil {
			return errors.Wrap(err, "migration failed")
		}
		log.Info().Str("event", "migrated").Msg("schema is up to date")
		return nil
	},
}
