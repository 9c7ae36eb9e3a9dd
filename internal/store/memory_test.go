package store

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
	"github.com/i474232898/weather-api/internal/weather"
)

func record(loc string, epoch int64) weather.HourlyRecord {
	return weather.HourlyRecord{Key: weather.RecordKey(loc, epoch), LocationID: loc, DateTimeEpoch: epoch}
}

func TestHourlyUpsertAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertHourly(ctx, []weather.HourlyRecord{record("a", 300), record("a", 100), record("a", 200), record("b", 200)}))

	temp := 10.0
	updated := record("a", 200)
	updated.Temp = &temp
	require.NoError(t, s.UpsertHourly(ctx, []weather.HourlyRecord{updated}))

	got, err := s.QueryHourly(ctx, weather.HourlyQuery{LocationID: "a", FromEpoch: 100, ToEpoch: 200})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].DateTimeEpoch)
	require.NotNil(t, got[1].Temp)

	got, err = s.QueryHourly(ctx, weather.HourlyQuery{LocationID: "a", FromEpoch: 0, ToEpoch: 1000, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, int64(300), got[0].DateTimeEpoch)

	n, err := s.DeleteHourlyBefore(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteHourlyNotIn(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConfigInsertIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertConfig(ctx, appconfig.Entry{Key: "K", Value: 5}))
	require.NoError(t, s.InsertConfigIfAbsent(ctx, appconfig.Entry{Key: "K", Value: 1}))
	require.NoError(t, s.InsertConfigIfAbsent(ctx, appconfig.Entry{Key: "A", Value: 2}))

	entries, err := s.ListConfig(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].Key)
	assert.Equal(t, 5, entries[1].Value)
}

func TestLocationConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateLocation(ctx, &locations.Location{ID: "1", Name: "Vail", Country: "US", Lat: 1, Lon: 1}))

	assert.ErrorIs(t, s.CreateLocation(ctx, &locations.Location{ID: "2", Name: "VAIL", Country: "us", Lat: 2, Lon: 2}), locations.ErrDuplicate)
	assert.ErrorIs(t, s.CreateLocation(ctx, &locations.Location{ID: "3", Name: "Other", Country: "US", Lat: 1, Lon: 1}), locations.ErrDuplicate)
	assert.ErrorIs(t, s.UpdateLocation(ctx, &locations.Location{ID: "9", Name: "x"}), locations.ErrNotFound)

	ok, err := s.InsertLocationIfAbsent(ctx, &locations.Location{ID: "4", Name: "Seed", Lat: 1, Lon: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.DeleteLocation(ctx, "9")
	assert.ErrorIs(t, err, locations.ErrNotFound)
}

func TestUsageCountersAndPurge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	w := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		n, err := s.IncrementUsageWindow(ctx, "c1", w)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}
	_, err := s.IncrementUsageDay(ctx, "c1", "2024-05-01")
	require.NoError(t, err)
	_, err = s.IncrementUsageDay(ctx, "c1", "2024-05-10")
	require.NoError(t, err)

	n, err := s.PurgeUsageBefore(ctx, w.Add(time.Minute), "2024-05-05")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.UsageDayCount(ctx, "c1", "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAccessLogsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	for i, host := range []string{"a.com", "", "b.com", "a.com"} {
		require.NoError(t, s.AppendAccessLog(ctx, admission.AccessLog{ClientID: "c1", Host: host, CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	hosts, err := s.DistinctHostsSince(ctx, "c1", base)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, hosts)

	logs, err := s.RecentAccessLogs(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, base.Add(3*time.Hour), logs[0].CreatedAt)

	n, err := s.PurgeAccessLogsBefore(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPurgeExpiredTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateMagicToken(ctx, &identity.MagicToken{Audience: identity.AudienceAdmin, TokenHash: "old", ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.CreateMagicToken(ctx, &identity.MagicToken{Audience: identity.AudienceAdmin, TokenHash: "new", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, s.CreateRefreshToken(ctx, &identity.RefreshToken{TokenHash: "r", ExpiresAt: now.Add(-time.Hour)}))

	n, err := s.PurgeExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.FindMagicToken(ctx, identity.AudienceAdmin, "new")
	require.NoError(t, err)
	_, err = s.FindMagicToken(ctx, identity.AudienceFrontend, "new")
	assert.ErrorIs(t, err, identity.ErrTokenNotFound)
}
