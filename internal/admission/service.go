package admission

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
)

const accessLogLimit = 50

// CreateInput describes a new client. Nil limits take the configured defaults.
type CreateInput struct {
	Name            string         `json:"name" validate:"required"`
	ContactEmail    string         `json:"contactEmail" validate:"omitempty,email"`
	Plan            string         `json:"plan"`
	RateLimitPerMin *int           `json:"rateLimitPerMin"`
	DailyQuota      *int           `json:"dailyQuota"`
	Metadata        map[string]any `json:"metadata"`
}

// UpdateInput carries optional changes. Non-positive limits and unknown
// statuses are ignored.
type UpdateInput struct {
	Name            *string        `json:"name"`
	ContactEmail    *string        `json:"contactEmail"`
	Plan            *string        `json:"plan"`
	RateLimitPerMin *int           `json:"rateLimitPerMin"`
	DailyQuota      *int           `json:"dailyQuota"`
	Status          *Status        `json:"status"`
	Metadata        map[string]any `json:"metadata"`
	RegenerateKey   bool           `json:"regenerateKey"`
}

// Issued is a client together with a plaintext key shown once.
type Issued struct {
	Client *Client `json:"client"`
	APIKey string  `json:"apiKey,omitempty"`
}

// Summary is a client as listed to administrators.
type Summary struct {
	Client
	CurrentDayUsage int64 `json:"currentDayUsage"`
}

// AccessReport is the recent access history of one client.
type AccessReport struct {
	DistinctHosts []string    `json:"distinctHosts"`
	Logs          []AccessLog `json:"logs"`
}

// ClientService manages API-client lifecycle and key authentication.
type ClientService struct {
	clients  ClientStore
	usage    UsageStore
	logs     AccessLogStore
	hasher   *KeyHasher
	settings appconfig.Provider
	clock    Clock
}

func NewClientService(clients ClientStore, usage UsageStore, logs AccessLogStore, hasher *KeyHasher, settings appconfig.Provider) *ClientService {
	return &ClientService{clients: clients, usage: usage, logs: logs, hasher: hasher, settings: settings, clock: timeNowClock{}}
}

// Authenticate resolves an active client from a raw key.
func (s *ClientService) Authenticate(ctx context.Context, rawKey string) (*Client, error) {
	if strings.TrimSpace(rawKey) == "" {
		return nil, apperr.Authentication("API key required")
	}
	client, err := s.clients.FindActiveClientByKeyHash(ctx, s.hasher.Hash(rawKey))
	if errors.Is(err, ErrClientNotFound) {
		return nil, apperr.Authentication("Invalid API key")
	}
	if err != nil {
		return nil, apperr.Internal("failed to look up api client", err)
	}
	return client, nil
}

func (s *ClientService) Create(ctx context.Context, in CreateInput) (*Issued, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	rawKey, keyHash, err := s.newKey()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	client := &Client{
		ID:                uuid.NewString(),
		Name:              name,
		ContactEmail:      strings.TrimSpace(in.ContactEmail),
		KeyHash:           keyHash,
		Status:            StatusActive,
		Plan:              strings.TrimSpace(in.Plan),
		RateLimitPerMin:   in.RateLimitPerMin,
		DailyQuota:        in.DailyQuota,
		LatestPlainAPIKey: rawKey,
		Metadata:          in.Metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if client.Plan == "" {
		client.Plan = DefaultPlan
	}
	if client.RateLimitPerMin == nil {
		v := s.settings.Int(appconfig.KeyClientRateLimitDefault)
		client.RateLimitPerMin = &v
	}
	if client.DailyQuota == nil {
		v := s.settings.Int(appconfig.KeyClientDailyQuotaDefault)
		client.DailyQuota = &v
	}

	if err := s.clients.CreateClient(ctx, client); err != nil {
		return nil, s.storeError("failed to create api client", err)
	}
	log.Info().Str("event", "api_client_created").Str("clientId", client.ID).Str("name", client.Name).Msg("api client created")
	return &Issued{Client: client, APIKey: rawKey}, nil
}

// List returns every client newest first with today's UTC usage. Plaintext
// keys are omitted.
func (s *ClientService) List(ctx context.Context) ([]Summary, error) {
	all, err := s.clients.ListClients(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list api clients", err)
	}
	dayKey := DayKey(s.clock.Now())
	out := make([]Summary, 0, len(all))
	for _, c := range all {
		count, err := s.usage.UsageDayCount(ctx, c.ID, dayKey)
		if err != nil {
			return nil, apperr.Internal("failed to load api client usage", err)
		}
		c.LatestPlainAPIKey = ""
		out = append(out, Summary{Client: c, CurrentDayUsage: count})
	}
	return out, nil
}

func (s *ClientService) Get(ctx context.Context, id string) (*Client, error) {
	client, err := s.clients.GetClient(ctx, id)
	if err != nil {
		return nil, s.storeError("failed to load api client", err)
	}
	return client, nil
}

func (s *ClientService) Update(ctx context.Context, id string, in UpdateInput) (*Issued, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if in.Name != nil {
		client.Name, changed = strings.TrimSpace(*in.Name), true
	}
	if in.ContactEmail != nil {
		client.ContactEmail, changed = strings.TrimSpace(*in.ContactEmail), true
	}
	if in.Plan != nil {
		client.Plan, changed = strings.TrimSpace(*in.Plan), true
	}
	if in.RateLimitPerMin != nil && *in.RateLimitPerMin > 0 {
		v := *in.RateLimitPerMin
		client.RateLimitPerMin, changed = &v, true
	}
	if in.DailyQuota != nil && *in.DailyQuota > 0 {
		v := *in.DailyQuota
		client.DailyQuota, changed = &v, true
	}
	if in.Status != nil && (*in.Status == StatusActive || *in.Status == StatusRevoked) {
		client.Status, changed = *in.Status, true
	}
	if in.Metadata != nil {
		client.Metadata, changed = in.Metadata, true
	}

	if changed {
		client.UpdatedAt = s.clock.Now()
		if err := s.clients.UpdateClient(ctx, client); err != nil {
			return nil, s.storeError("failed to update api client", err)
		}
	}
	if in.RegenerateKey {
		return s.RegenerateKey(ctx, id)
	}
	return &Issued{Client: client}, nil
}

// Toggle flips an active client to revoked and any other to active.
func (s *ClientService) Toggle(ctx context.Context, id string) (*Client, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if client.Active() {
		return s.setStatus(ctx, client, StatusRevoked)
	}
	return s.setStatus(ctx, client, StatusActive)
}

func (s *ClientService) Revoke(ctx context.Context, id string) (*Client, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, client, StatusRevoked)
}

func (s *ClientService) Activate(ctx context.Context, id string) (*Client, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, client, StatusActive)
}

// RegenerateKey replaces the key hash. The previous key stops working at once.
func (s *ClientService) RegenerateKey(ctx context.Context, id string) (*Issued, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rawKey, keyHash, err := s.newKey()
	if err != nil {
		return nil, err
	}
	client.KeyHash = keyHash
	client.LatestPlainAPIKey = rawKey
	client.UpdatedAt = s.clock.Now()
	if err := s.clients.UpdateClient(ctx, client); err != nil {
		return nil, s.storeError("failed to rotate api key", err)
	}
	log.Info().Str("event", "api_client_key_rotated").Str("clientId", client.ID).Msg("api client key rotated")
	return &Issued{Client: client, APIKey: rawKey}, nil
}

// Delete removes the client. Usage counters and logs expire on their own.
func (s *ClientService) Delete(ctx context.Context, id string) error {
	if err := s.clients.DeleteClient(ctx, id); err != nil {
		return s.storeError("failed to delete api client", err)
	}
	log.Info().Str("event", "api_client_deleted").Str("clientId", id).Msg("api client deleted")
	return nil
}

// Access returns the latest access-log entries and the distinct hosts among them.
func (s *ClientService) Access(ctx context.Context, id string) (*AccessReport, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.logs.RecentAccessLogs(ctx, id, accessLogLimit)
	if err != nil {
		return nil, apperr.Internal("failed to load access logs", err)
	}
	report := &AccessReport{DistinctHosts: []string{}, Logs: logs}
	seen := map[string]bool{}
	for _, l := range logs {
		if l.Host == "" || seen[l.Host] {
			continue
		}
		seen[l.Host] = true
		report.DistinctHosts = append(report.DistinctHosts, l.Host)
	}
	return report, nil
}

func (s *ClientService) setStatus(ctx context.Context, client *Client, status Status) (*Client, error) {
	client.Status = status
	client.UpdatedAt = s.clock.Now()
	if err := s.clients.UpdateClient(ctx, client); err != nil {
		return nil, s.storeError("failed to update api client status", err)
	}
	log.Info().Str("event", "api_client_status_changed").Str("clientId", client.ID).Str("status", string(status)).Msg("api client status changed")
	return client, nil
}

func (s *ClientService) newKey() (string, string, error) {
	rawKey, err := GenerateKey()
	if err != nil {
		return "", "", apperr.Internal("failed to generate api key", err)
	}
	return rawKey, s.hasher.Hash(rawKey), nil
}

func (s *ClientService) storeError(msg string, err error) error {
	switch {
	case errors.Is(err, ErrClientNotFound):
		return apperr.NotFound("Client not found")
	case errors.Is(err, ErrDuplicateKey):
		return apperr.Conflict("API key collision, retry")
	default:
		return apperr.Internal(msg, err)
	}
}

// WithClock replaces the time source.
func (s *ClientService) WithClock(c Clock) *ClientService {
	s.clock = c
	return s
}
