package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/i474232898/weather-api/internal/app"
	"github.com/i474232898/weather-api/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the scheduled jobs",
	RunE:  runServe,
}

var autoMigrate bool

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "migrate the postgres schema before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, closer, err := app.OpenBackend(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}
	defer closer.Close()

	if pg, ok := backend.(*postgres.Store); ok && autoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			return errors.Wrap(err, "migration failed")
		}
	}

	a, err := app.Build(ctx, cfg, backend)
	if err != nil {
		return errors.Wrap(err, "failed to build application")
	}
	defer a.Close()

	if err := a.Scheduler.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	defer a.Scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("event", "server_started").Str("port", cfg.Port).Msg("listening")
		errCh <- a.Server.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Str("event", "server_stopping").Msg("shutting down")
	case err := <-errCh:
		return errors.Wrap(err, "server stopped")
	}
	if err := a.Server.Shutdown(shutdownTimeout); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}
