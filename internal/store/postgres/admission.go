package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/i474232898/weather-api/internal/admission"
)

func clientError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return admission.ErrClientNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return admission.ErrDuplicateKey
	default:
		return err
	}
}

func (s *Store) CreateClient(ctx context.Context, c *admission.Client) error {
	row := toClientRow(c)
	return clientError(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetClient(ctx context.Context, id string) (*admission.Client, error) {
	return s.firstClient(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FindActiveClientByKeyHash(ctx context.Context, keyHash string) (*admission.Client, error) {
	return s.firstClient(s.db.WithContext(ctx).Where("key_hash = ? AND status = ?", keyHash, admission.StatusActive))
}

func (s *Store) firstClient(q *gorm.DB) (*admission.Client, error) {
	var row clientRow
	if err := q.First(&row).Error; err != nil {
		return nil, clientError(err)
	}
	c := row.client()
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]admission.Client, error) {
	var rows []clientRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]admission.Client, len(rows))
	for i, r := range rows {
		out[i] = r.client()
	}
	return out, nil
}

// UpdateClient writes the editable columns. Usage totals and alert stamps
// are advanced only by TouchClientUsage and MarkClientAlerted.
func (s *Store) UpdateClient(ctx context.Context, c *admission.Client) error {
	row := toClientRow(c)
	res := s.db.WithContext(ctx).Model(&clientRow{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":                 row.Name,
		"contact_email":        row.ContactEmail,
		"key_hash":             row.KeyHash,
		"status":               row.Status,
		"plan":                 row.Plan,
		"rate_limit_per_min":   row.RateLimitPerMin,
		"daily_quota":          row.DailyQuota,
		"latest_plain_api_key": row.LatestPlainAPIKey,
		"metadata":             row.Metadata,
		"updated_at":           c.UpdatedAt,
	})
	if res.Error != nil {
		return clientError(res.Error)
	}
	if res.RowsAffected == 0 {
		return admission.ErrClientNotFound
	}
	return nil
}

// DeleteClient removes the client with its counters and access logs.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&usageWindowRow{}, &usageDayRow{}, &accessLogRow{}} {
			if err := tx.Where("client_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&clientRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return admission.ErrClientNotFound
		}
		return nil
	})
}

func (s *Store) TouchClientUsage(ctx context.Context, id string, at time.Time) error {
	return s.updateClientColumns(ctx, id, map[string]any{
		"total_usage":  gorm.Expr("total_usage + 1"),
		"last_used_at": at,
	})
}

func (s *Store) MarkClientAlerted(ctx context.Context, id string, at time.Time) error {
	return s.updateClientColumns(ctx, id, map[string]any{"last_access_alert_at": at})
}

func (s *Store) updateClientColumns(ctx context.Context, id string, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&clientRow{}).Where("id = ?", id).UpdateColumns(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return admission.ErrClientNotFound
	}
	return nil
}

const (
	incrementWindowSQL = `INSERT INTO api_client_usage_windows (client_id, window_start, count) VALUES (?, ?, 1)
ON CONFLICT (client_id, window_start) DO UPDATE SET count = api_client_usage_windows.count + 1
RETURNING count`
	incrementDaySQL = `INSERT INTO api_client_usage_days (client_id, day_key, count) VALUES (?, ?, 1)
ON CONFLICT (client_id, day_key) DO UPDATE SET count = api_client_usage_days.count + 1
RETURNING count`
)

// IncrementUsageWindow is a single upsert so concurrent callers never share a count.
func (s *Store) IncrementUsageWindow(ctx context.Context, clientID string, windowStart time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Raw(incrementWindowSQL, clientID, windowStart.UnixMilli()).Scan(&n).Error
	return n, err
}

func (s *Store) IncrementUsageDay(ctx context.Context, clientID, dayKey string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Raw(incrementDaySQL, clientID, dayKey).Scan(&n).Error
	return n, err
}

func (s *Store) UsageDayCount(ctx context.Context, clientID, dayKey string) (int64, error) {
	var row usageDayRow
	err := s.db.WithContext(ctx).Where("client_id = ? AND day_key = ?", clientID, dayKey).Limit(1).Find(&row).Error
	return row.Count, err
}

func (s *Store) AppendAccessLog(ctx context.Context, entry admission.AccessLog) error {
	row := accessLogRow{
		ClientID:  entry.ClientID,
		IP:        entry.IP,
		Host:      entry.Host,
		Origin:    entry.Origin,
		UserAgent: entry.UserAgent,
		CreatedAt: entry.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) DistinctHostsSince(ctx context.Context, clientID string, since time.Time) ([]string, error) {
	hosts := []string{}
	err := s.db.WithContext(ctx).Model(&accessLogRow{}).
		Where("client_id = ? AND created_at >= ? AND host <> ''", clientID, since).
		Distinct().
		Order("host").
		Pluck("host", &hosts).Error
	return hosts, err
}

func (s *Store) RecentAccessLogs(ctx context.Context, clientID string, limit int) ([]admission.AccessLog, error) {
	q := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []accessLogRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]admission.AccessLog, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

func (s *Store) PurgeUsageBefore(ctx context.Context, windowBefore time.Time, dayKeyBefore string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("window_start < ?", windowBefore.UnixMilli()).Delete(&usageWindowRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		res = tx.Where("day_key < ?", dayKeyBefore).Delete(&usageDayRow{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

func (s *Store) PurgeAccessLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&accessLogRow{})
	return res.RowsAffected, res.Error
}
