// Package appconfig holds the runtime-tunable settings that operators may
// change while the service runs. Values are persisted through a Repository and
// served from an in-memory snapshot.
package appconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	KeyWeatherMaxDaysBack      = "WEATHER_API_MAX_DAYS_BACK"
	KeyWeatherMaxDaysForward   = "WEATHER_API_MAX_DAYS_FORWARD"
	KeyWeatherDefaultDaysBack  = "WEATHER_DEFAULT_DAYS_BACK"
	KeyWeatherDefaultDaysFwd   = "WEATHER_DEFAULT_DAYS_FORWARD"
	KeySegmentMaxDaysBack      = "WEATHER_SEGMENT_MAX_DAYS_BACK"
	KeySegmentMaxDaysForward   = "WEATHER_SEGMENT_MAX_DAYS_FORWARD"
	KeyBackfillDays            = "DB_BACKFILL_DAYS"
	KeyFetchIntervalHours      = "DB_FETCH_INTERVAL_HOURS"
	KeyCleanIntervalHours      = "DB_CLEAN_INTERVAL_HOURS"
	KeyBackfillIntervalHours   = "DB_BACKFILL_INTERVAL_HOURS"
	KeyDaysToKeep              = "DB_DAYS_TO_KEEP"
	KeyLocationFetchRadiusMi   = "LOCATION_FETCH_RADIUS_MI"
	KeyConfigRefreshHours      = "CONFIG_REFRESH_INTERVAL_HOURS"
	KeyLocationStoreRadiusMi   = "LOCATION_STORE_RADIUS_MI"
	KeyClientRateLimitDefault  = "API_CLIENT_RATE_LIMIT_DEFAULT"
	KeyClientDailyQuotaDefault = "API_CLIENT_DAILY_QUOTA_DEFAULT"
	KeyAdminRateLimit          = "RATE_LIMIT_ADMIN"
	KeyBackendSessionMinutes   = "TTL_BACKEND_SESSION_MINUTES"
	KeyAuthTokenMinutes        = "TTL_AUTH_TOKEN_MINUTES"
	KeyFrontendSessionMinutes  = "TTL_FRONTEND_SESSION_MINUTES"
)

var (
	ErrUnknownKey    = errors.New("unknown config key")
	ErrValueRequired = errors.New("value is required")
	ErrInvalidValue  = errors.New("value must be numeric")
)

// Definition is a known key with its compiled-in default.
type Definition struct {
	Key         string
	Default     int
	Description string
}

// Definitions lists every tunable key.
var Definitions = []Definition{
	{KeyWeatherMaxDaysBack, 60, "Maximum historical days allowed for queries."},
	{KeyWeatherMaxDaysForward, 14, "Maximum future days allowed from provider."},
	{KeyWeatherDefaultDaysBack, 3, "Historical days returned when a query does not ask."},
	{KeyWeatherDefaultDaysFwd, 14, "Future days returned when a query does not ask."},
	{KeySegmentMaxDaysBack, 7, "Maximum historical days for daily overview and segment queries."},
	{KeySegmentMaxDaysForward, 14, "Maximum future days for daily overview and segment queries."},
	{KeyBackfillDays, 14, "Days of history to backfill on startup."},
	{KeyFetchIntervalHours, 2, "Interval for forecast fetch jobs (hours)."},
	{KeyCleanIntervalHours, 24, "Interval for cleanup jobs (hours)."},
	{KeyBackfillIntervalHours, 24, "Interval between automatic backfills (hours)."},
	{KeyDaysToKeep, 60, "Number of days of hourly data to retain."},
	{KeyLocationFetchRadiusMi, 30, "Max distance (miles) when searching nearest location."},
	{KeyConfigRefreshHours, 24, "Interval between automatic config cache refreshes (hours)."},
	{KeyLocationStoreRadiusMi, 5, "Minimum allowed distance (miles) between stored locations."},
	{KeyClientRateLimitDefault, 60, "Default per-minute request limit for new API clients (set <=0 for unlimited)."},
	{KeyClientDailyQuotaDefault, 5000, "Default daily request quota for new API clients (set <=0 for unlimited)."},
	{KeyAdminRateLimit, 60, "Max admin requests per minute (0 or negative = unlimited)."},
	{KeyBackendSessionMinutes, 60, "Backend admin session lifetime in minutes."},
	{KeyAuthTokenMinutes, 15, "Magic-link token lifetime in minutes."},
	{KeyFrontendSessionMinutes, 1440, "Frontend session lifetime in minutes."},
}

var definitionsByKey = func() map[string]Definition {
	m := make(map[string]Definition, len(Definitions))
	for _, d := range Definitions {
		m[d.Key] = d
	}
	return m
}()

// Lookup returns the definition of key.
func Lookup(key string) (Definition, bool) {
	d, ok := definitionsByKey[key]
	return d, ok
}

// Entry is one persisted setting.
type Entry struct {
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Repository persists settings.
type Repository interface {
	InsertConfigIfAbsent(ctx context.Context, entry Entry) error
	ListConfig(ctx context.Context) ([]Entry, error)
	UpsertConfig(ctx context.Context, entry Entry) error
}

// Provider is the read contract handed to other components.
type Provider interface {
	Int(key string) int
}

// Store serves settings from a snapshot refreshed from its Repository.
type Store struct {
	repo     Repository
	snapshot atomic.Pointer[map[string]any]
}

func New(repo Repository) *Store {
	s := &Store{repo: repo}
	empty := map[string]any{}
	s.snapshot.Store(&empty)
	return s
}

// EnsureDefaults inserts every known key that is not yet persisted and then
// refreshes the snapshot. Existing values are left alone.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	for _, d := range Definitions {
		entry := Entry{Key: d.Key, Value: d.Default, Description: d.Description}
		if err := s.repo.InsertConfigIfAbsent(ctx, entry); err != nil {
			return fmt.Errorf("failed to seed config %s: %w", d.Key, err)
		}
	}
	_, err := s.Refresh(ctx)
	return err
}

// Refresh reloads every persisted value and swaps the snapshot.
func (s *Store) Refresh(ctx context.Context) (map[string]any, error) {
	entries, err := s.repo.ListConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	next := make(map[string]any, len(entries))
	for _, e := range entries {
		next[e.Key] = e.Value
	}
	s.snapshot.Store(&next)
	log.Info().Str("event", "config_cache_refreshed").Int("entries", len(next)).Msg("config cache refreshed")
	return s.Values(), nil
}

// Values returns a copy of the cached key/value map.
func (s *Store) Values() map[string]any {
	cur := *s.snapshot.Load()
	out := make(map[string]any, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// Entries lists every known key with its effective value, sorted by key.
func (s *Store) Entries() []Entry {
	cur := *s.snapshot.Load()
	out := make([]Entry, 0, len(Definitions))
	for _, d := range Definitions {
		v, ok := cur[d.Key]
		if !ok {
			v = d.Default
		}
		out = append(out, Entry{Key: d.Key, Value: v, Description: d.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Set validates and persists a new value, then updates the snapshot.
func (s *Store) Set(ctx context.Context, key string, value any) (Entry, error) {
	d, ok := Lookup(key)
	if !ok {
		return Entry{}, ErrUnknownKey
	}
	if value == nil {
		return Entry{}, ErrValueRequired
	}
	n, ok := toNumber(value)
	if !ok {
		return Entry{}, ErrInvalidValue
	}

	var stored any = n
	if n == math.Trunc(n) {
		stored = int64(n)
	}
	entry := Entry{Key: key, Value: stored, Description: d.Description, UpdatedAt: time.Now().UTC()}
	if err := s.repo.UpsertConfig(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("failed to store config %s: %w", key, err)
	}

	for {
		old := s.snapshot.Load()
		next := make(map[string]any, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[key] = stored
		if s.snapshot.CompareAndSwap(old, &next) {
			break
		}
	}
	return entry, nil
}

// Int returns the cached value of key truncated to an int, or its compiled
// default when the value is absent or not numeric.
func (s *Store) Int(key string) int {
	if v, ok := (*s.snapshot.Load())[key]; ok {
		if n, ok := toNumber(v); ok {
			return int(n)
		}
	}
	return Default(key)
}

// Default returns the compiled default for key, or 0 for unknown keys.
func Default(key string) int {
	return definitionsByKey[key].Default
}

// Static is a fixed Provider. Keys it does not hold resolve to their defaults.
type Static map[string]int

func (s Static) Int(key string) int {
	if v, ok := s[key]; ok {
		return v
	}
	return Default(key)
}

// Minutes reads key from p as a number of minutes.
func Minutes(p Provider, key string) time.Duration {
	return time.Duration(p.Int(key)) * time.Minute
}

// Hours reads key from p as a number of hours.
func Hours(p Provider, key string) time.Duration {
	return time.Duration(p.Int(key)) * time.Hour
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
