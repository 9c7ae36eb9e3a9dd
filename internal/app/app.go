// Package app assembles the service graph from configuration.
package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/admission"
	httpapi "github.com/i474232898/weather-api/internal/api/http"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/config"
	"github.com/i474232898/weather-api/internal/email"
	"github.com/i474232898/weather-api/internal/geo"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/ratelimit"
	"github.com/i474232898/weather-api/internal/scheduler"
	"github.com/i474232898/weather-api/internal/store"
	"github.com/i474232898/weather-api/internal/store/postgres"
	"github.com/i474232898/weather-api/internal/store/rediscache"
	"github.com/i474232898/weather-api/internal/timezone"
	"github.com/i474232898/weather-api/internal/weather"
	"github.com/i474232898/weather-api/internal/weather/providers"
)

const geocodeCacheTTL = 24 * time.Hour

// Backend is every repository the services need. The memory and postgres
// stores both satisfy it.
type Backend interface {
	weather.Store
	locations.Store
	appconfig.Repository
	admission.ClientStore
	admission.UsageStore
	admission.AccessLogStore
	admission.Retention
	identity.UserStore
	identity.TokenStore
}

// OpenBackend connects the store named by cfg.StoreDriver. The returned
// closer releases its connections.
func OpenBackend(cfg *config.AppConfig) (Backend, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nopCloser{}, nil
	case config.StorePostgres:
		pg, err := postgres.Open(postgres.Options{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, nil, err
		}
		return pg, pg, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// App is the wired service graph.
type App struct {
	Config    *appconfig.Store
	Locations *locations.Directory
	Weather   *weather.Service
	Scheduler *scheduler.Scheduler
	Server    *httpapi.Server

	closers []io.Closer
}

// Build wires every component. The configuration store is seeded with its
// defaults and the location cache is loaded before Build returns.
func Build(ctx context.Context, cfg *config.AppConfig, backend Backend) (*App, error) {
	a := &App{}

	a.Config = appconfig.New(backend)
	if err := a.Config.EnsureDefaults(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to seed config defaults")
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	tz := timezone.NewResolver()

	geocoder, err := newGeocoder(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	a.Locations = locations.NewDirectory(backend, a.Config, geocoder, tz)
	if _, err := a.Locations.Refresh(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to load locations")
	}

	provider := providers.NewOpenMeteoProvider(httpClient, cfg.OpenMeteo.ForecastURL, cfg.OpenMeteo.ArchiveURL, tz)
	a.Weather = weather.NewService(backend, provider, a.Locations, a.Config, tz)

	mailer, err := email.New(email.Options{
		Provider:      cfg.Email.Provider,
		From:          cfg.Email.From,
		SMTPHost:      cfg.Email.SMTPHost,
		SMTPPort:      cfg.Email.SMTPPort,
		SMTPUser:      cfg.Email.SMTPUser,
		SMTPPassword:  cfg.Email.SMTPPassword,
		BrevoAPIKey:   cfg.Email.BrevoAPIKey,
		BrevoEndpoint: cfg.Email.BrevoEndpoint,
	})
	if err != nil {
		log.Warn().Err(err).Str("event", "email_unconfigured").Msg("email disabled, messages will be logged")
		mailer = email.LogSender{}
	}

	var (
		usage   admission.UsageStore = backend
		counter ratelimit.Counter    = ratelimit.NewMemoryCounter()
	)
	if cfg.RedisURL != "" {
		rdb, err := rediscache.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb)
		counters := rediscache.New(rdb, "weather")
		usage, counter = counters, counters
		log.Info().Str("event", "redis_counters_enabled").Msg("usage counters stored in redis")
	}

	hasher, err := admission.NewKeyHasher(cfg.Clients.KeyHashSecret)
	if err != nil {
		return nil, err
	}
	users := identity.NewUserAdmin(backend, cfg.Backend.OwnerEmail)
	clients := admission.NewClientService(backend, usage, backend, hasher, a.Config)
	anomaly := admission.NewAnomalyDetector(backend, backend, users, mailer)
	tracker := admission.NewTracker(backend, usage, backend, anomaly, a.Config, admission.TrackerConfig{
		Window:             cfg.Clients.RateWindow,
		RateLimitFallback:  cfg.Clients.RateLimitFallback,
		DailyQuotaFallback: cfg.Clients.DailyQuotaFallback,
	})

	deps := httpapi.Deps{
		Clients:      clients,
		Tracker:      tracker,
		Weather:      a.Weather,
		Locations:    a.Locations,
		Config:       a.Config,
		Users:        users,
		AdminLimiter: ratelimit.New(counter, a.Config, appconfig.KeyAdminRateLimit, time.Minute, "admin"),
	}
	if cfg.Backend.AdminEnabled {
		if deps.Admin, err = adminFlow(cfg, backend, mailer, a.Config); err != nil {
			return nil, err
		}
	}
	if deps.Frontend, err = frontendFlow(cfg, backend, mailer, a.Config); err != nil {
		log.Warn().Err(err).Str("event", "frontend_auth_disabled").Msg("frontend sign in disabled")
	}

	origins := cfg.Frontend.CORSOrigins
	if cfg.Backend.Dev {
		origins = append(origins, "http://localhost:3000", "http://127.0.0.1:3000")
	}
	a.Server = httpapi.New(deps, httpapi.Options{
		KeyHeader:            cfg.Clients.KeyHeader,
		AdminCookieSecure:    cfg.Backend.CookieSecure,
		FrontendCookieSecure: cfg.Frontend.CookieSecure,
		FrontendSameSite:     cfg.Frontend.CookieSameSite,
		CORSOrigins:          origins,
		RequestLogging:       cfg.Backend.Dev,
	})

	a.Scheduler = scheduler.New(scheduler.Jobs{
		Weather:   a.Weather,
		Locations: a.Locations,
		Config:    a.Config,
		Tokens:    backend,
		Retention: backend,
		Settings:  a.Config,
	})
	return a, nil
}

// Close releases connections opened by Build.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
}

func newGeocoder(cfg *config.AppConfig, httpClient *http.Client) (geo.Geocoder, error) {
	switch cfg.Geocoder.Backend {
	case "", "nominatim":
		return geo.NewCached(geo.NewNominatim(httpClient, cfg.Geocoder.NominatimURL), geocodeCacheTTL), nil
	case "google":
		g, err := geo.NewGoogle(cfg.Geocoder.GoogleAPIKey)
		if err != nil {
			return nil, err
		}
		return geo.NewCached(g, geocodeCacheTTL), nil
	case "none":
		return nil, nil
	default:
		return nil, errors.Errorf("unknown geocoder %q", cfg.Geocoder.Backend)
	}
}

func adminFlow(cfg *config.AppConfig, backend Backend, mailer email.Sender, settings appconfig.Provider) (*identity.MagicLinkFlow, error) {
	sessions, err := identity.NewSessions(cfg.Backend.SessionSecret, identity.AudienceAdmin)
	if err != nil {
		return nil, errors.Wrap(err, "admin sessions")
	}
	return identity.NewMagicLinkFlow(identity.FlowConfig{
		Audience:           identity.AudienceAdmin,
		VerifyPath:         "/admin/auth/verify",
		DefaultRedirect:    "/admin.html",
		Subject:            "Your admin login link",
		LinkBaseURL:        cfg.Backend.URL,
		BootstrapEmail:     cfg.Backend.OwnerEmail,
		RequireAdminAccess: true,
		MagicTTLKey:        appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:      appconfig.KeyBackendSessionMinutes,
	}, backend, backend, mailer, sessions, settings), nil
}

func frontendFlow(cfg *config.AppConfig, backend Backend, mailer email.Sender, settings appconfig.Provider) (*identity.MagicLinkFlow, error) {
	sessions, err := identity.NewSessions(cfg.Frontend.SessionSecret, identity.AudienceFrontend)
	if err != nil {
		return nil, errors.Wrap(err, "frontend sessions")
	}
	return identity.NewMagicLinkFlow(identity.FlowConfig{
		Audience:           identity.AudienceFrontend,
		VerifyPath:         "/auth/verify",
		DefaultRedirect:    "/",
		Subject:            "Your login link",
		LinkBaseURL:        cfg.Backend.URL,
		RedirectBaseURL:    cfg.Frontend.URL,
		AllowNewUsers:      cfg.Frontend.AllowNewUsers,
		ClosedSignupNotice: true,
		MagicTTLKey:        appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:      appconfig.KeyFrontendSessionMinutes,
	}, backend, backend, mailer, sessions, settings), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
