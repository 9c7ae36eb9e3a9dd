// Package scheduler runs the periodic ingestion and maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/weather"
)

const (
	jobTimeout            = 30 * time.Minute
	locationRefreshHours  = 24
	reaperIntervalMinutes = 60
	defaultIntervalHours  = 24
)

// Refresher reloads a cached snapshot.
type Refresher interface {
	Refresh(ctx context.Context) (map[string]any, error)
}

// LocationRefresher reloads the location cache.
type LocationRefresher interface {
	Refresh(ctx context.Context) ([]locations.Location, error)
}

// TokenPurger deletes expired sign-in and refresh tokens.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// Jobs are the collaborators the scheduled jobs call. Tokens and Retention
// may be nil.
type Jobs struct {
	Weather   *weather.Service
	Locations LocationRefresher
	Config    Refresher
	Tokens    TokenPurger
	Retention admission.Retention
	Settings  appconfig.Provider
}

// Scheduler owns a gocron scheduler. Every job runs in singleton mode, so a
// slow run delays the next one instead of overlapping it.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      Jobs
	now       func() time.Time
}

// New creates a new Scheduler.
func New(jobs Jobs) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used by the reaper.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start registers every job and starts the scheduler. Intervals are read
// from the configuration store once, here. The start-up cleanup and
// backfill run in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	specs := []struct {
		name  string
		every func(*gocron.Scheduler) *gocron.Scheduler
		run   func(context.Context)
	}{
		{"weather_fetch", s.hours(appconfig.KeyFetchIntervalHours), s.Fetch},
		{"weather_cleanup", s.hours(appconfig.KeyCleanIntervalHours), s.Cleanup},
		{"weather_backfill", s.hours(appconfig.KeyBackfillIntervalHours), func(ctx context.Context) { s.Backfill(ctx, false) }},
		{"config_refresh", s.hours(appconfig.KeyConfigRefreshHours), s.RefreshConfig},
		{"locations_refresh", func(g *gocron.Scheduler) *gocron.Scheduler { return g.Every(locationRefreshHours).Hours() }, s.RefreshLocations},
		{"ttl_reaper", func(g *gocron.Scheduler) *gocron.Scheduler { return g.Every(reaperIntervalMinutes).Minutes() }, s.Reap},
	}

	for _, spec := range specs {
		_, err := spec.every(s.scheduler).
			SingletonMode().
			WaitForSchedule().
			Tag(spec.name).
			Do(func() { s.runJob(ctx, spec.name, spec.run) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", spec.name, err)
		}
	}

	s.scheduler.StartAsync()
	log.Info().Str("event", "scheduler_started").Int("jobs", len(specs)).Msg("scheduler started")

	go s.runJob(ctx, "startup", s.Startup)
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) hours(key string) func(*gocron.Scheduler) *gocron.Scheduler {
	return func(g *gocron.Scheduler) *gocron.Scheduler {
		n := defaultIntervalHours
		if s.jobs.Settings != nil {
			if v := s.jobs.Settings.Int(key); v > 0 {
				n = v
			}
		}
		return g.Every(n).Hours()
	}
}

func (s *Scheduler) runJob(parent context.Context, name string, run func(context.Context)) {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	started := time.Now()
	log.Debug().Str("event", "job_started").Str("job", name).Msg("scheduler job started")
	run(ctx)
	log.Debug().Str("event", "job_finished").Str("job", name).Dur("took", time.Since(started)).Msg("scheduler job finished")
}

// Startup cleans stale data, then backfills history and the forecast.
func (s *Scheduler) Startup(ctx context.Context) {
	s.Cleanup(ctx)
	s.Backfill(ctx, true)
}

func (s *Scheduler) Fetch(ctx context.Context) {
	if s.jobs.Weather == nil {
		return
	}
	s.jobs.Weather.FetchAll(ctx, weather.FetchRequest{Context: weather.ContextForecast})
}

func (s *Scheduler) Backfill(ctx context.Context, includeFuture bool) {
	if s.jobs.Weather == nil {
		return
	}
	days := appconfig.Default(appconfig.KeyBackfillDays)
	if s.jobs.Settings != nil {
		days = s.jobs.Settings.Int(appconfig.KeyBackfillDays)
	}
	s.jobs.Weather.Backfill(ctx, days, includeFuture)
}

// Cleanup removes orphaned records, then records past retention.
func (s *Scheduler) Cleanup(ctx context.Context) {
	if s.jobs.Weather == nil {
		return
	}
	if _, err := s.jobs.Weather.RemoveOrphans(ctx); err != nil {
		log.Error().Err(err).Msg("failed to remove orphan hourly weather")
	}
	if _, err := s.jobs.Weather.RemoveOld(ctx); err != nil {
		log.Error().Err(err).Msg("failed to remove old hourly weather")
	}
}

func (s *Scheduler) RefreshConfig(ctx context.Context) {
	if s.jobs.Config == nil {
		return
	}
	if _, err := s.jobs.Config.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("failed to refresh config cache")
	}
}

func (s *Scheduler) RefreshLocations(ctx context.Context) {
	if s.jobs.Locations == nil {
		return
	}
	if _, err := s.jobs.Locations.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("failed to refresh locations cache")
	}
}

// Reap purges expired tokens and metering data past retention.
func (s *Scheduler) Reap(ctx context.Context) {
	now := s.now()
	var tokens, usage, logs int64
	var err error

	if s.jobs.Tokens != nil {
		if tokens, err = s.jobs.Tokens.PurgeExpiredTokens(ctx, now); err != nil {
			log.Error().Err(err).Msg("failed to purge expired tokens")
		}
	}
	if s.jobs.Retention != nil {
		dayCutoff := admission.DayKey(now.Add(-admission.DayRetention))
		if usage, err = s.jobs.Retention.PurgeUsageBefore(ctx, now.Add(-admission.WindowRetention), dayCutoff); err != nil {
			log.Error().Err(err).Msg("failed to purge usage counters")
		}
		if logs, err = s.jobs.Retention.PurgeAccessLogsBefore(ctx, now.Add(-admission.AccessLogRetention)); err != nil {
			log.Error().Err(err).Msg("failed to purge access logs")
		}
	}
	log.Info().Str("event", "ttl_reaper").
		Int64("tokens", tokens).Int64("usage", usage).Int64("accessLogs", logs).
		Msg("expired records purged")
}
