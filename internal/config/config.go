// Package config loads process configuration from the environment, an
// optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ErrMissingHashSecret = errors.New("CLIENT_API_KEY_HASH_SECRET is required")

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// AppConfig is the process configuration. Runtime-tunable values live in the
// configuration store instead.
type AppConfig struct {
	Port        string
	StoreDriver string
	DatabaseURL string
	RedisURL    string
	HTTPTimeout time.Duration
	LogLevel    string
	LogFormat   string

	Clients   ClientConfig
	Backend   BackendConfig
	Frontend  FrontendConfig
	Email     EmailConfig
	Geocoder  GeocoderConfig
	OpenMeteo OpenMeteoConfig
}

// ClientConfig drives API-client admission.
type ClientConfig struct {
	KeyHashSecret      string
	KeyHeader          string
	RateWindow         time.Duration
	RateLimitFallback  int
	DailyQuotaFallback int
}

// BackendConfig drives the admin surface.
type BackendConfig struct {
	AdminEnabled  bool
	SessionSecret string
	URL           string
	CookieSecure  bool
	OwnerEmail    string
	Dev           bool
}

// FrontendConfig drives end-user sign in.
type FrontendConfig struct {
	SessionSecret  string
	URL            string
	CookieSecure   bool
	CookieSameSite string
	AllowNewUsers  bool
	CORSOrigins    []string
}

type EmailConfig struct {
	Provider      string
	From          string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPassword  string
	BrevoAPIKey   string
	BrevoEndpoint string
}

type GeocoderConfig struct {
	Backend      string
	NominatimURL string
	GoogleAPIKey string
}

type OpenMeteoConfig struct {
	ForecastURL string
	ArchiveURL  string
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"STORE_DRIVER":                StorePostgres,
	"HTTP_TIMEOUT":                "15s",
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "json",
	"CLIENT_API_KEY_HEADER":       "x-api-key",
	"CLIENT_API_RATE_WINDOW_MIN":  1,
	"CLIENT_RATE_LIMIT_FALLBACK":  60,
	"CLIENT_DAILY_QUOTA_FALLBACK": 5000,
	"BACKEND_ADMIN_ENABLED":       true,
	"BACKEND_COOKIE_SECURE":       true,
	"FRONTEND_COOKIE_SECURE":      true,
	"FRONTEND_COOKIE_SAMESITE":    "Lax",
	"AUTH_ALLOW_NEW_USERS":        false,
	"SMTP_PORT":                   587,
	"GEOCODER":                    "nominatim",
}

// Load reads configuration. A missing .env or config file is not an error.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds an AppConfig from v, applying defaults and the environment.
func FromViper(v *viper.Viper) (*AppConfig, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	timeout, err := time.ParseDuration(v.GetString("HTTP_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}

	windowMin := v.GetInt("CLIENT_API_RATE_WINDOW_MIN")
	if windowMin <= 0 {
		windowMin = 1
	}

	cfg := &AppConfig{
		Port:        v.GetString("PORT"),
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisURL:    v.GetString("REDIS_URL"),
		HTTPTimeout: timeout,
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),
		Clients: ClientConfig{
			KeyHashSecret:      v.GetString("CLIENT_API_KEY_HASH_SECRET"),
			KeyHeader:          strings.ToLower(v.GetString("CLIENT_API_KEY_HEADER")),
			RateWindow:         time.Duration(windowMin) * time.Minute,
			RateLimitFallback:  v.GetInt("CLIENT_RATE_LIMIT_FALLBACK"),
			DailyQuotaFallback: v.GetInt("CLIENT_DAILY_QUOTA_FALLBACK"),
		},
		Backend: BackendConfig{
			AdminEnabled:  v.GetBool("BACKEND_ADMIN_ENABLED"),
			SessionSecret: v.GetString("BACKEND_SESSION_SECRET"),
			URL:           strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
			CookieSecure:  v.GetBool("BACKEND_COOKIE_SECURE"),
			OwnerEmail:    v.GetString("BACKEND_OWNER_EMAIL"),
			Dev:           v.GetBool("BACKEND_DEV"),
		},
		Frontend: FrontendConfig{
			SessionSecret:  v.GetString("FRONTEND_SESSION_SECRET"),
			URL:            strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
			CookieSecure:   v.GetBool("FRONTEND_COOKIE_SECURE"),
			CookieSameSite: v.GetString("FRONTEND_COOKIE_SAMESITE"),
			AllowNewUsers:  v.GetBool("AUTH_ALLOW_NEW_USERS"),
			CORSOrigins:    splitList(v.GetString("CORS_FRONTEND_ORIGINS")),
		},
		Email: EmailConfig{
			Provider:      v.GetString("EMAIL_PROVIDER"),
			From:          v.GetString("EMAIL_FROM"),
			SMTPHost:      v.GetString("SMTP_HOST"),
			SMTPPort:      v.GetInt("SMTP_PORT"),
			SMTPUser:      v.GetString("SMTP_USER"),
			SMTPPassword:  v.GetString("SMTP_PASSWORD"),
			BrevoAPIKey:   v.GetString("BREVO_API_KEY"),
			BrevoEndpoint: v.GetString("BREVO_API_ENDPOINT_URL"),
		},
		Geocoder: GeocoderConfig{
			Backend:      strings.ToLower(v.GetString("GEOCODER")),
			NominatimURL: v.GetString("NOMINATIM_URL"),
			GoogleAPIKey: v.GetString("GOOGLE_GEOCODER_API_KEY"),
		},
		OpenMeteo: OpenMeteoConfig{
			ForecastURL: v.GetString("OPEN_METEO_BASE_URL"),
			ArchiveURL:  v.GetString("OPEN_METEO_ARCHIVE_URL"),
		},
	}
	return cfg, nil
}

// ValidateServe checks what the HTTP server cannot start without.
func (c *AppConfig) ValidateServe() error {
	if strings.TrimSpace(c.Clients.KeyHashSecret) == "" {
		return ErrMissingHashSecret
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Backend.AdminEnabled && c.Backend.SessionSecret == "" {
		return errors.New("BACKEND_SESSION_SECRET is required when the admin surface is enabled")
	}
	return nil
}

// AllowsOrigin reports whether origin is listed in CORS_FRONTEND_ORIGINS.
func (c *AppConfig) AllowsOrigin(origin string) bool {
	for _, o := range c.Frontend.CORSOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimRight(strings.TrimSpace(part), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}
