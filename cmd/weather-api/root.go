package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-api/internal/config"
	"github.com/i474232898/weather-api/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "weather-api",
	Short: "Weather API backend",
	Long: `Serves hourly and aggregated weather for managed locations to
API-key clients, and ingests forecasts from Open-Meteo on a schedule.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := cmd.Help(); err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

// loadConfig reads configuration and configures logging from it.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
