package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "x-api-key", cfg.Clients.KeyHeader)
	assert.Equal(t, time.Minute, cfg.Clients.RateWindow)
	assert.Equal(t, 60, cfg.Clients.RateLimitFallback)
	assert.Equal(t, 5000, cfg.Clients.DailyQuotaFallback)
	assert.True(t, cfg.Backend.AdminEnabled)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
	assert.Equal(t, "nominatim", cfg.Geocoder.Backend)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("CLIENT_API_RATE_WINDOW_MIN", "5")
	t.Setenv("CLIENT_API_KEY_HEADER", "X-Client-Key")
	t.Setenv("BACKEND_URL", "https://api.example.com/")
	t.Setenv("CORS_FRONTEND_ORIGINS", "https://a.example.com/, ,https://b.example.com")

	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.Clients.RateWindow)
	assert.Equal(t, "x-client-key", cfg.Clients.KeyHeader)
	assert.Equal(t, "https://api.example.com", cfg.Backend.URL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Frontend.CORSOrigins)
	assert.True(t, cfg.AllowsOrigin("https://b.example.com"))
	assert.False(t, cfg.AllowsOrigin("https://evil.com"))
}

func TestInvalidTimeout(t *testing.T) {
	t.Setenv("HTTP_TIMEOUT", "soon")
	_, err := FromViper(viper.New())
	assert.Error(t, err)
}

func TestValidateServe(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BACKEND_ADMIN_ENABLED", "false")
	cfg, err := FromViper(viper.New())
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.ValidateServe(), ErrMissingHashSecret)

	cfg.Clients.KeyHashSecret = "secret"
	assert.NoError(t, cfg.ValidateServe())

	cfg.StoreDriver = StorePostgres
	assert.Error(t, cfg.ValidateServe())

	cfg.StoreDriver = StoreMemory
	cfg.Backend.AdminEnabled = true
	assert.Error(t, cfg.ValidateServe())
}
