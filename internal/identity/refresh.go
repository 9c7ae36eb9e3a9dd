package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-api/internal/apperr"
)

// TokenPair is returned to token-mode clients.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresInMinutes int    `json:"expiresInMinutes"`
}

// VerifyForTokens consumes a magic token and issues a bearer access token with
// a refresh token valid for the session lifetime.
func (f *MagicLinkFlow) VerifyForTokens(ctx context.Context, raw string, meta ClientMeta) (*TokenPair, error) {
	user, err := f.Verify(ctx, raw, meta)
	if err != nil {
		return nil, err
	}
	refresh, hash, err := newOpaqueToken()
	if err != nil {
		return nil, apperr.Internal("failed to generate refresh token", err)
	}
	now := f.cfg.Clock.Now()
	record := &RefreshToken{
		UserID:               user.ID,
		TokenHash:            hash,
		ExpiresAt:            now.Add(f.SessionTTL()),
		CreatedFromIP:        meta.IP,
		CreatedFromUserAgent: meta.UserAgent,
		CreatedAt:            now,
	}
	if err := f.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, apperr.Internal("failed to store refresh token", err)
	}
	return f.pair(user, refresh)
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// marked used and linked to its replacement. Presenting a token that was
// already exchanged revokes every refresh token of its user.
func (f *MagicLinkFlow) Refresh(ctx context.Context, raw string, meta ClientMeta) (*TokenPair, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, apperr.Validation("refreshToken is required")
	}
	hash := HashToken(raw)
	record, err := f.tokens.FindRefreshToken(ctx, hash)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, authFailure(ErrRefreshInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("failed to look up refresh token", err)
	}
	user, err := f.users.GetUser(ctx, record.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, authFailure(ErrRefreshInvalid)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}

	now := f.cfg.Clock.Now()
	switch {
	case record.RevokedAt != nil:
		return nil, authFailure(ErrRefreshRevoked)
	case record.UsedAt != nil:
		return nil, f.replayDetected(ctx, record.UserID)
	case record.ExpiresAt.Before(now):
		return nil, authFailure(ErrRefreshExpired)
	case !user.Active():
		return nil, authFailure(ErrUserInactive)
	}

	nextRaw, nextHash, err := newOpaqueToken()
	if err != nil {
		return nil, apperr.Internal("failed to generate refresh token", err)
	}
	next := &RefreshToken{
		UserID:               user.ID,
		TokenHash:            nextHash,
		ExpiresAt:            now.Add(f.SessionTTL()),
		CreatedFromIP:        meta.IP,
		CreatedFromUserAgent: meta.UserAgent,
		CreatedAt:            now,
	}
	rotated, err := f.tokens.RotateRefreshToken(ctx, hash, next, now)
	if err != nil {
		return nil, apperr.Internal("failed to rotate refresh token", err)
	}
	if !rotated {
		return nil, f.replayDetected(ctx, record.UserID)
	}
	return f.pair(user, nextRaw)
}

// Logout revokes the presented refresh token, if any.
func (f *MagicLinkFlow) Logout(ctx context.Context, rawRefresh string) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}
	err := f.tokens.RevokeRefreshToken(ctx, HashToken(rawRefresh), f.cfg.Clock.Now())
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return apperr.Internal("failed to revoke refresh token", err)
	}
	return nil
}

func (f *MagicLinkFlow) replayDetected(ctx context.Context, userID string) error {
	revoked, err := f.tokens.RevokeUserRefreshTokens(ctx, userID, f.cfg.Clock.Now())
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to revoke refresh tokens after reuse")
	}
	log.Warn().Str("event", "refresh_token_reuse").Str("userId", userID).Int64("revoked", revoked).Msg("refresh token reuse detected")
	return authFailure(ErrRefreshReused)
}

func (f *MagicLinkFlow) pair(user *User, refresh string) (*TokenPair, error) {
	access, err := f.sessions.Issue(user, AccessTokenTTL)
	if err != nil {
		return nil, apperr.Internal("failed to sign access token", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresInMinutes: int(AccessTokenTTL.Minutes()),
	}, nil
}
