package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-api/internal/app"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/timezone"
)

var seedCmd = &cobra.Command{
	Use:   "seed-locations",
	Short: "Insert the built-in locations that are not stored yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		backend, closer, err := app.OpenBackend(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to open store")
		}
		defer closer.Close()

		dir := locations.NewDirectory(backend, appconfig.Static{}, nil, timezone.NewResolver())
		n, err := dir.Seed(context.Background(), locations.SeedLocations)
		if err != nil {
			return errors.Wrap(err, "seed failed")
		}
		log.Info().Str("event", "locations_seeded").Int("inserted", n).Int("total", len(locations.SeedLocations)).Msg("locations seeded")
		return nil
	},
}
