// Package store provides a concurrency-safe in-memory implementation of every
// repository the service depends on. It backs tests and the memory driver.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/weather"
)

var (
	_ weather.Store            = (*MemoryStore)(nil)
	_ locations.Store          = (*MemoryStore)(nil)
	_ appconfig.Repository     = (*MemoryStore)(nil)
	_ admission.ClientStore    = (*MemoryStore)(nil)
	_ admission.UsageStore     = (*MemoryStore)(nil)
	_ admission.AccessLogStore = (*MemoryStore)(nil)
	_ admission.Retention      = (*MemoryStore)(nil)
	_ identity.UserStore       = (*MemoryStore)(nil)
	_ identity.TokenStore      = (*MemoryStore)(nil)
)

// MemoryStore keeps all state in maps guarded by one RWMutex.
type MemoryStore struct {
	mu sync.RWMutex

	// key: record key
	hourly    map[string]weather.HourlyRecord
	locations map[string]locations.Location
	config    map[string]appconfig.Entry

	clients      map[string]admission.Client
	usageWindows map[usageWindowKey]int64
	usageDays    map[usageDayKey]int64
	accessLogs   []admission.AccessLog

	users         map[string]identity.User
	magicTokens   map[string]identity.MagicToken
	refreshTokens map[string]identity.RefreshToken

	now func() time.Time
}

type usageWindowKey struct {
	clientID string
	start    int64
}

type usageDayKey struct {
	clientID string
	day      string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hourly:        make(map[string]weather.HourlyRecord),
		locations:     make(map[string]locations.Location),
		config:        make(map[string]appconfig.Entry),
		clients:       make(map[string]admission.Client),
		usageWindows:  make(map[usageWindowKey]int64),
		usageDays:     make(map[usageDayKey]int64),
		users:         make(map[string]identity.User),
		magicTokens:   make(map[string]identity.MagicToken),
		refreshTokens: make(map[string]identity.RefreshToken),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// UpsertHourly replaces records by key.
func (s *MemoryStore) UpsertHourly(_ context.Context, records []weather.HourlyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.hourly[r.Key] = r
	}
	return nil
}

// QueryHourly returns one location's records in [FromEpoch, ToEpoch] ordered by time.
func (s *MemoryStore) QueryHourly(_ context.Context, q weather.HourlyQuery) ([]weather.HourlyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []weather.HourlyRecord{}
	for _, r := range s.hourly {
		if r.LocationID != q.LocationID || r.DateTimeEpoch < q.FromEpoch || r.DateTimeEpoch > q.ToEpoch {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if q.Descending {
			return result[i].DateTimeEpoch > result[j].DateTimeEpoch
		}
		return result[i].DateTimeEpoch < result[j].DateTimeEpoch
	})
	return result, nil
}

func (s *MemoryStore) DeleteHourlyBefore(_ context.Context, cutoffEpochMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, r := range s.hourly {
		if r.DateTimeEpoch < cutoffEpochMs {
			delete(s.hourly, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteHourlyNotIn(_ context.Context, keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		ids[id] = struct{}{}
	}
	var n int64
	for k, r := range s.hourly {
		if _, ok := ids[r.LocationID]; !ok {
			delete(s.hourly, k)
			n++
		}
	}
	return n, nil
}

// InsertConfigIfAbsent leaves existing keys untouched.
func (s *MemoryStore) InsertConfigIfAbsent(_ context.Context, entry appconfig.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.config[entry.Key]; !ok {
		if entry.UpdatedAt.IsZero() {
			entry.UpdatedAt = s.now()
		}
		s.config[entry.Key] = entry
	}
	return nil
}

func (s *MemoryStore) ListConfig(_ context.Context) ([]appconfig.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]appconfig.Entry, 0, len(s.config))
	for _, e := range s.config {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) UpsertConfig(_ context.Context, entry appconfig.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[entry.Key] = entry
	return nil
}
