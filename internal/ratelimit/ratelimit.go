// Package ratelimit implements a fixed-window request limiter keyed by caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/i474232898/weather-api/internal/appconfig"
)

// Counter increments a windowed counter, creating it with ttl when absent,
// and returns the post-increment value.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int64
	RetryAfter time.Duration
}

// Limiter admits at most the configured number of requests per window per
// subject. The limit is read on every call so config changes apply at once.
type Limiter struct {
	counter  Counter
	settings appconfig.Provider
	limitKey string
	window   time.Duration
	prefix   string
	now      func() time.Time
}

func New(counter Counter, settings appconfig.Provider, limitKey string, window time.Duration, prefix string) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		counter:  counter,
		settings: settings,
		limitKey: limitKey,
		window:   window,
		prefix:   prefix,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow counts one request by subject. A limit of zero or less admits everything.
func (l *Limiter) Allow(ctx context.Context, subject string) (Decision, error) {
	limit := l.settings.Int(l.limitKey)
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}, nil
	}
	if subject == "" {
		subject = "unknown"
	}

	now := l.now()
	size := l.window.Milliseconds()
	start := now.UnixMilli() / size * size
	key := fmt.Sprintf("%s:%s:%d", l.prefix, subject, start)

	count, err := l.counter.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate counter: %w", err)
	}
	d := Decision{Allowed: count <= int64(limit), Limit: limit, Count: count}
	if !d.Allowed {
		d.RetryAfter = time.UnixMilli(start + size).Sub(now)
	}
	return d, nil
}

// MemoryCounter keeps counters in process memory.
type MemoryCounter struct {
	mu    sync.Mutex
	items *cache.Cache
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{items: cache.New(time.Minute, 5*time.Minute)}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.items.Add(key, int64(1), ttl); err == nil {
		return 1, nil
	}
	n, err := m.items.IncrementInt64(key, 1)
	if err != nil {
		// expired between Add and Increment
		m.items.Set(key, int64(1), ttl)
		return 1, nil
	}
	return n, nil
}
