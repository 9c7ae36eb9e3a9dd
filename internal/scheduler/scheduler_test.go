package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/scheduler"
	"github.com/i474232898/weather-api/internal/store"
	"github.com/i474232898/weather-api/internal/timezone"
	"github.com/i474232898/weather-api/internal/weather"
)

var now = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

type noopProvider struct{}

func (noopProvider) Name() string { return "noop" }

func (noopProvider) FetchHourly(context.Context, locations.Location, weather.FetchRequest) ([]weather.HourlyRecord, error) {
	return nil, nil
}

func TestReapPurgesExpiredData(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, mem.CreateMagicToken(ctx, &identity.MagicToken{Audience: identity.AudienceAdmin, TokenHash: "a", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, mem.CreateRefreshToken(ctx, &identity.RefreshToken{TokenHash: "b", ExpiresAt: now.Add(time.Hour)}))
	_, err := mem.IncrementUsageWindow(ctx, "c1", now.Add(-8*24*time.Hour))
	require.NoError(t, err)
	_, err = mem.IncrementUsageWindow(ctx, "c1", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = mem.IncrementUsageDay(ctx, "c1", "2024-05-01")
	require.NoError(t, err)
	_, err = mem.IncrementUsageDay(ctx, "c1", "2024-05-19")
	require.NoError(t, err)
	require.NoError(t, mem.AppendAccessLog(ctx, admission.AccessLog{ClientID: "c1", Host: "old", CreatedAt: now.Add(-8 * 24 * time.Hour)}))
	require.NoError(t, mem.AppendAccessLog(ctx, admission.AccessLog{ClientID: "c1", Host: "new", CreatedAt: now.Add(-time.Hour)}))

	s := scheduler.New(scheduler.Jobs{Tokens: mem, Retention: mem}).WithClock(func() time.Time { return now })
	s.Reap(ctx)

	_, err = mem.FindMagicToken(ctx, identity.AudienceAdmin, "a")
	assert.ErrorIs(t, err, identity.ErrTokenNotFound)
	_, err = mem.FindRefreshToken(ctx, "b")
	assert.NoError(t, err)

	n, err := mem.UsageDayCount(ctx, "c1", "2024-05-01")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = mem.UsageDayCount(ctx, "c1", "2024-05-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err := mem.RecentAccessLogs(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "new", logs[0].Host)
}

func TestCleanupKeepsDataWhenNoLocationsKnown(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	tz := timezone.NewResolver()
	settings := appconfig.Static{}
	dir := locations.NewDirectory(mem, settings, nil, tz)
	svc := weather.NewService(mem, noopProvider{}, dir, settings, tz)

	recent := time.Now().UTC().UnixMilli()
	require.NoError(t, mem.UpsertHourly(ctx, []weather.HourlyRecord{{Key: "x", LocationID: "ghost", DateTimeEpoch: recent}}))

	s := scheduler.New(scheduler.Jobs{Weather: svc, Locations: dir, Settings: settings})
	s.Cleanup(ctx)

	got, err := mem.QueryHourly(ctx, weather.HourlyQuery{LocationID: "ghost", FromEpoch: 0, ToEpoch: recent})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStartAndStop(t *testing.T) {
	mem := store.NewMemoryStore()
	cfg := appconfig.New(mem)
	s := scheduler.New(scheduler.Jobs{Config: cfg, Settings: cfg})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
