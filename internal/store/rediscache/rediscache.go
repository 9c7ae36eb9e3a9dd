// Package rediscache keeps request counters in Redis so every API instance
// shares the same rate-limit and quota windows.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/ratelimit"
)

var (
	_ admission.UsageStore = (*Counters)(nil)
	_ ratelimit.Counter    = (*Counters)(nil)
)

const pingTimeout = 5 * time.Second

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// Counters implements windowed counters with INCR and EXPIRE in one
// MULTI/EXEC so a counter never outlives its retention.
type Counters struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Counters {
	if prefix == "" {
		prefix = "weather"
	}
	return &Counters{rdb: rdb, prefix: prefix}
}

// Incr implements ratelimit.Counter.
func (c *Counters) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return c.incr(ctx, c.prefix+":"+key, ttl)
}

func (c *Counters) IncrementUsageWindow(ctx context.Context, clientID string, windowStart time.Time) (int64, error) {
	return c.incr(ctx, c.windowKey(clientID, windowStart), admission.WindowRetention)
}

func (c *Counters) IncrementUsageDay(ctx context.Context, clientID, dayKey string) (int64, error) {
	return c.incr(ctx, c.dayKey(clientID, dayKey), admission.DayRetention)
}

func (c *Counters) UsageDayCount(ctx context.Context, clientID, dayKey string) (int64, error) {
	n, err := c.rdb.Get(ctx, c.dayKey(clientID, dayKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read day usage: %w", err)
	}
	return n, nil
}

func (c *Counters) incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (c *Counters) windowKey(clientID string, start time.Time) string {
	return fmt.Sprintf("%s:usage:window:%s:%d", c.prefix, clientID, start.UnixMilli())
}

func (c *Counters) dayKey(clientID, day string) string {
	return fmt.Sprintf("%s:usage:day:%s:%s", c.prefix, clientID, day)
}
