// Package admission authenticates third-party API clients by key and meters
// their usage against per-minute and per-day budgets.
package admission

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of an API client.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"

	DefaultPlan = "default"
)

// Retention of metering data. Stores without native expiry are purged by
// the maintenance scheduler.
const (
	WindowRetention    = 7 * 24 * time.Hour
	DayRetention       = 14 * 24 * time.Hour
	AccessLogRetention = 7 * 24 * time.Hour
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrDuplicateKey   = errors.New("key hash already assigned")
)

// Client is a third-party caller identified by an API key. Only the key's
// HMAC is used for lookup. LatestPlainAPIKey is kept for admin display and
// is not a secret store.
type Client struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	ContactEmail      string         `json:"contactEmail"`
	KeyHash           string         `json:"keyHash"`
	Status            Status         `json:"status"`
	Plan              string         `json:"plan"`
	RateLimitPerMin   *int           `json:"rateLimitPerMin"`
	DailyQuota        *int           `json:"dailyQuota"`
	TotalUsage        int64          `json:"totalUsage"`
	LastUsedAt        *time.Time     `json:"lastUsedAt,omitempty"`
	LastAccessAlertAt *time.Time     `json:"lastAccessAlertAt,omitempty"`
	LatestPlainAPIKey string         `json:"latestPlainApiKey,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Active reports whether the client may authenticate.
func (c *Client) Active() bool { return c.Status == StatusActive }

// AccessLog is one metered request.
type AccessLog struct {
	ClientID  string    `json:"client"`
	IP        string    `json:"ip"`
	Host      string    `json:"host"`
	Origin    string    `json:"origin"`
	UserAgent string    `json:"userAgent"`
	CreatedAt time.Time `json:"createdAt"`
}

// ClientStore persists API clients.
type ClientStore interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id string) (*Client, error)
	FindActiveClientByKeyHash(ctx context.Context, keyHash string) (*Client, error)
	// ListClients returns clients newest first.
	ListClients(ctx context.Context) ([]Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	DeleteClient(ctx context.Context, id string) error
	// TouchClientUsage sets lastUsedAt and increments totalUsage.
	TouchClientUsage(ctx context.Context, id string, at time.Time) error
	MarkClientAlerted(ctx context.Context, id string, at time.Time) error
}

// UsageStore holds the request counters. Both increments create the counter
// when absent and return the post-increment value in one atomic step.
type UsageStore interface {
	IncrementUsageWindow(ctx context.Context, clientID string, windowStart time.Time) (int64, error)
	IncrementUsageDay(ctx context.Context, clientID, dayKey string) (int64, error)
	UsageDayCount(ctx context.Context, clientID, dayKey string) (int64, error)
}

// AccessLogStore records metered requests.
type AccessLogStore interface {
	AppendAccessLog(ctx context.Context, entry AccessLog) error
	DistinctHostsSince(ctx context.Context, clientID string, since time.Time) ([]string, error)
	// RecentAccessLogs returns up to limit entries, newest first.
	RecentAccessLogs(ctx context.Context, clientID string, limit int) ([]AccessLog, error)
}

// Retention purges expired counters and logs for stores without native TTLs.
type Retention interface {
	PurgeUsageBefore(ctx context.Context, windowBefore time.Time, dayKeyBefore string) (int64, error)
	PurgeAccessLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type timeNowClock struct{}

func (timeNowClock) Now() time.Time {
	return time.Now().UTC()
}
