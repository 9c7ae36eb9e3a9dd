package admission

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
)

const (
	DefaultRateLimitFallback  = 60
	DefaultDailyQuotaFallback = 5000
)

// RequestMeta is what the HTTP layer knows about a metered request.
type RequestMeta struct {
	IP        string
	Host      string
	Origin    string
	UserAgent string
}

// Usage reports post-increment counters for an admitted request.
type Usage struct {
	MinuteWindowStart time.Time `json:"minuteWindowStart"`
	MinuteCount       int64     `json:"minuteCount"`
	DayKey            string    `json:"dayKey"`
	DailyCount        int64     `json:"dailyCount"`
}

// TrackerConfig controls a Tracker. Zero values select defaults.
type TrackerConfig struct {
	Window             time.Duration
	RateLimitFallback  int
	DailyQuotaFallback int
	Clock              Clock
}

// Tracker meters admitted requests against the minute and day budgets.
type Tracker struct {
	clients  ClientStore
	usage    UsageStore
	logs     AccessLogStore
	anomaly  *AnomalyDetector
	settings appconfig.Provider
	cfg      TrackerConfig
}

func NewTracker(clients ClientStore, usage UsageStore, logs AccessLogStore, anomaly *AnomalyDetector, settings appconfig.Provider, cfg TrackerConfig) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.RateLimitFallback == 0 {
		cfg.RateLimitFallback = DefaultRateLimitFallback
	}
	if cfg.DailyQuotaFallback == 0 {
		cfg.DailyQuotaFallback = DefaultDailyQuotaFallback
	}
	if cfg.Clock == nil {
		cfg.Clock = timeNowClock{}
	}
	return &Tracker{clients: clients, usage: usage, logs: logs, anomaly: anomaly, settings: settings, cfg: cfg}
}

// WindowStart floors t to the start of its rate window.
func (t *Tracker) WindowStart(at time.Time) time.Time {
	size := t.cfg.Window.Milliseconds()
	return time.UnixMilli(at.UnixMilli() / size * size).UTC()
}

// DayKey is the UTC calendar date of at.
func DayKey(at time.Time) string {
	return at.UTC().Format(time.DateOnly)
}

// Track counts the request and rejects it when a budget is exhausted.
// Rejected requests still consume budget. Counter failures fail closed.
func (t *Tracker) Track(ctx context.Context, client *Client, meta RequestMeta) (Usage, error) {
	now := t.cfg.Clock.Now().UTC()
	windowStart := t.WindowStart(now)

	minuteCount, err := t.usage.IncrementUsageWindow(ctx, client.ID, windowStart)
	if err != nil {
		return Usage{}, apperr.Internal("failed to record usage window", err)
	}
	if limit := t.rateLimit(client); limit > 0 && minuteCount > int64(limit) {
		retry := windowStart.Add(t.cfg.Window).Sub(now)
		return Usage{}, apperr.RateLimited("Rate limit exceeded", retry)
	}

	dayKey := DayKey(now)
	dailyCount, err := t.usage.IncrementUsageDay(ctx, client.ID, dayKey)
	if err != nil {
		return Usage{}, apperr.Internal("failed to record daily usage", err)
	}
	if quota := t.dailyQuota(client); quota > 0 && dailyCount > int64(quota) {
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
		return Usage{}, apperr.QuotaExceeded("Daily quota exceeded", midnight.Sub(now))
	}

	if err := t.clients.TouchClientUsage(ctx, client.ID, now); err != nil {
		log.Warn().Err(err).Str("clientId", client.ID).Msg("failed to update client usage totals")
	}
	t.recordAccess(ctx, client, meta, now)

	return Usage{
		MinuteWindowStart: windowStart,
		MinuteCount:       minuteCount,
		DayKey:            dayKey,
		DailyCount:        dailyCount,
	}, nil
}

// recordAccess appends the access log, then runs the anomaly check even when
// the append failed. Errors are logged and discarded.
func (t *Tracker) recordAccess(ctx context.Context, client *Client, meta RequestMeta, now time.Time) {
	entry := AccessLog{
		ClientID:  client.ID,
		IP:        meta.IP,
		Host:      meta.Host,
		Origin:    meta.Origin,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}
	if err := t.logs.AppendAccessLog(ctx, entry); err != nil {
		log.Warn().Err(err).Str("event", "api_client_access_log_error").Str("clientId", client.ID).Msg("failed to record access log")
	}
	if t.anomaly == nil {
		return
	}
	if err := t.anomaly.Check(ctx, client, now); err != nil {
		log.Warn().Err(err).Str("event", "api_client_access_alert_error").Str("clientId", client.ID).Msg("access anomaly check failed")
	}
}

func (t *Tracker) rateLimit(c *Client) int {
	if c.RateLimitPerMin != nil {
		return *c.RateLimitPerMin
	}
	return t.configured(appconfig.KeyClientRateLimitDefault, t.cfg.RateLimitFallback)
}

func (t *Tracker) dailyQuota(c *Client) int {
	if c.DailyQuota != nil {
		return *c.DailyQuota
	}
	return t.configured(appconfig.KeyClientDailyQuotaDefault, t.cfg.DailyQuotaFallback)
}

func (t *Tracker) configured(key string, fallback int) int {
	if t.settings == nil {
		return fallback
	}
	return t.settings.Int(key)
}
