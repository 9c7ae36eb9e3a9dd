package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/i474232898/weather-api/internal/identity"
)

var errStaleRefresh = errors.New("refresh token already rotated")

func userError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return identity.ErrUserNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return identity.ErrDuplicateEmail
	default:
		return err
	}
}

func (s *Store) CreateUser(ctx context.Context, u *identity.User) error {
	row := toUserRow(u)
	return userError(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) GetUser(ctx context.Context, id string) (*identity.User, error) {
	return s.firstUser(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.firstUser(s.db.WithContext(ctx).Where("lower(email) = lower(?)", email))
}

func (s *Store) firstUser(q *gorm.DB) (*identity.User, error) {
	var row userRow
	if err := q.First(&row).Error; err != nil {
		return nil, userError(err)
	}
	u := row.user()
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]identity.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]identity.User, len(rows))
	for i, r := range rows {
		out[i] = r.user()
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *identity.User) error {
	return s.updateUserColumns(ctx, u.ID, map[string]any{
		"email":           u.Email,
		"name":            u.Name,
		"role":            string(u.Role),
		"location_access": string(u.LocationAccess),
		"admin_access":    u.AdminAccess,
		"status":          string(u.Status),
		"updated_at":      u.UpdatedAt,
	})
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time, ip, userAgent string) error {
	return s.updateUserColumns(ctx, id, map[string]any{
		"last_login_at":         at,
		"last_login_ip":         ip,
		"last_login_user_agent": userAgent,
	})
}

func (s *Store) updateUserColumns(ctx context.Context, id string, values map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).UpdateColumns(values)
	if res.Error != nil {
		return userError(res.Error)
	}
	if res.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func tokenError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return identity.ErrTokenNotFound
	}
	return err
}

func (s *Store) CreateMagicToken(ctx context.Context, t *identity.MagicToken) error {
	row := magicTokenRow{
		Audience:             string(t.Audience),
		TokenHash:            t.TokenHash,
		UserID:               t.UserID,
		ExpiresAt:            t.ExpiresAt,
		CreatedFromIP:        t.CreatedFromIP,
		CreatedFromUserAgent: t.CreatedFromUserAgent,
		CreatedAt:            t.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) FindMagicToken(ctx context.Context, audience identity.Audience, tokenHash string) (*identity.MagicToken, error) {
	var row magicTokenRow
	err := s.db.WithContext(ctx).First(&row, "audience = ? AND token_hash = ?", string(audience), tokenHash).Error
	if err != nil {
		return nil, tokenError(err)
	}
	t := row.token()
	return &t, nil
}

// ConsumeMagicToken marks the token used only if it is still unused and
// unexpired, so exactly one concurrent caller wins.
func (s *Store) ConsumeMagicToken(ctx context.Context, audience identity.Audience, tokenHash string, at time.Time, meta identity.ClientMeta) (bool, error) {
	res := s.db.WithContext(ctx).Model(&magicTokenRow{}).
		Where("audience = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ?", string(audience), tokenHash, at).
		UpdateColumns(map[string]any{
			"used_at":                  at,
			"consumed_from_ip":         meta.IP,
			"consumed_from_user_agent": meta.UserAgent,
		})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) CreateRefreshToken(ctx context.Context, t *identity.RefreshToken) error {
	row := toRefreshRow(t)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*identity.RefreshToken, error) {
	var row refreshTokenRow
	if err := s.db.WithContext(ctx).First(&row, "token_hash = ?", tokenHash).Error; err != nil {
		return nil, tokenError(err)
	}
	t := row.token()
	return &t, nil
}

// RotateRefreshToken consumes oldHash and stores next in one transaction.
// It reports false when oldHash was already used or revoked.
func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *identity.RefreshToken, at time.Time) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&refreshTokenRow{}).
			Where("token_hash = ? AND used_at IS NULL AND revoked_at IS NULL", oldHash).
			UpdateColumns(map[string]any{"used_at": at, "replaced_by_token_hash": next.TokenHash})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStaleRefresh
		}
		row := toRefreshRow(next)
		return tx.Create(&row).Error
	})
	if errors.Is(err, errStaleRefresh) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("token_hash = ?", tokenHash).
		UpdateColumn("revoked_at", gorm.Expr("COALESCE(revoked_at, ?)", at))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return identity.ErrTokenNotFound
	}
	return nil
}

func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&refreshTokenRow{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		UpdateColumn("revoked_at", at)
	return res.RowsAffected, res.Error
}

func (s *Store) PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&magicTokenRow{}, &refreshTokenRow{}} {
			res := tx.Where("expires_at < ?", before).Delete(model)
			if res.Error != nil {
				return res.Error
			}
			total += res.RowsAffected
		}
		return nil
	})
	return total, err
}
