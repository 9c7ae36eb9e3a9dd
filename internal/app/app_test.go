package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/config"
	"github.com/i474232898/weather-api/internal/locations"
)

func memoryConfig(t *testing.T, env map[string]string) *config.AppConfig {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CLIENT_API_KEY_HASH_SECRET", "secret")
	t.Setenv("EMAIL_PROVIDER", "log")
	t.Setenv("GEOCODER", "none")
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)
	return cfg
}

func TestBuildWithMemoryBackend(t *testing.T) {
	cfg := memoryConfig(t, map[string]string{
		"BACKEND_SESSION_SECRET":  "admin-secret",
		"FRONTEND_SESSION_SECRET": "frontend-secret",
	})
	backend, closer, err := OpenBackend(cfg)
	require.NoError(t, err)
	defer closer.Close()

	ctx := context.Background()
	a, err := Build(ctx, cfg, backend)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 60, a.Config.Int(appconfig.KeyDaysToKeep))
	_, err = a.Locations.Seed(ctx, locations.SeedLocations)
	require.NoError(t, err)
	assert.Len(t, a.Locations.Cached(), len(locations.SeedLocations))

	resp, err := a.Server.App().Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = a.Server.App().Test(httptest.NewRequest(http.MethodGet, "/admin/auth/session", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBuildWithoutAdminSurface(t *testing.T) {
	cfg := memoryConfig(t, map[string]string{"BACKEND_ADMIN_ENABLED": "false"})
	backend, _, err := OpenBackend(cfg)
	require.NoError(t, err)

	a, err := Build(context.Background(), cfg, backend)
	require.NoError(t, err)

	resp, err := a.Server.App().Test(httptest.NewRequest(http.MethodGet, "/admin/config", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = a.Server.App().Test(httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBuildRejectsUnknownGeocoder(t *testing.T) {
	cfg := memoryConfig(t, map[string]string{"GEOCODER": "bing", "BACKEND_ADMIN_ENABLED": "false"})
	backend, _, err := OpenBackend(cfg)
	require.NoError(t, err)

	_, err = Build(context.Background(), cfg, backend)
	assert.ErrorContains(t, err, "unknown geocoder")
}
