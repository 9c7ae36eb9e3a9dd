package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

type Audience string

const (
	AudienceAdmin    Audience = "admin"
	AudienceFrontend Audience = "frontend"
)

var (
	ErrTokenNotFound = errors.New("token not found")

	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenUsed      = errors.New("token already used")
	ErrTokenExpired   = errors.New("token expired")
	ErrUserInactive   = errors.New("user inactive")
	ErrRefreshInvalid = errors.New("invalid refresh token")
	ErrRefreshRevoked = errors.New("refresh token revoked")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshReused  = errors.New("refresh token reuse detected")
	ErrSessionInvalid = errors.New("invalid session")
)

// MagicToken is a single-use sign-in token. Only its hash is stored.
type MagicToken struct {
	Audience              Audience   `json:"audience"`
	UserID                string     `json:"userId"`
	TokenHash             string     `json:"-"`
	ExpiresAt             time.Time  `json:"expiresAt"`
	UsedAt                *time.Time `json:"usedAt,omitempty"`
	CreatedFromIP         string     `json:"createdFromIp"`
	CreatedFromUserAgent  string     `json:"createdFromUserAgent"`
	ConsumedFromIP        string     `json:"consumedFromIp,omitempty"`
	ConsumedFromUserAgent string     `json:"consumedFromUserAgent,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// RefreshToken is one link of a rotation chain.
type RefreshToken struct {
	UserID               string     `json:"userId"`
	TokenHash            string     `json:"-"`
	ExpiresAt            time.Time  `json:"expiresAt"`
	UsedAt               *time.Time `json:"usedAt,omitempty"`
	RevokedAt            *time.Time `json:"revokedAt,omitempty"`
	ReplacedByTokenHash  string     `json:"replacedByTokenHash,omitempty"`
	CreatedFromIP        string     `json:"createdFromIp"`
	CreatedFromUserAgent string     `json:"createdFromUserAgent"`
	CreatedAt            time.Time  `json:"createdAt"`
}

// ClientMeta identifies the caller creating or consuming a token.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// TokenStore persists magic and refresh tokens.
type TokenStore interface {
	CreateMagicToken(ctx context.Context, t *MagicToken) error
	FindMagicToken(ctx context.Context, audience Audience, tokenHash string) (*MagicToken, error)
	// ConsumeMagicToken marks the token used only if it is still unused and
	// unexpired at at. It reports whether this call consumed it.
	ConsumeMagicToken(ctx context.Context, audience Audience, tokenHash string, at time.Time, meta ClientMeta) (bool, error)

	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// RotateRefreshToken marks oldHash used and replaced by next, and stores
	// next, only if oldHash is neither used nor revoked. It reports whether
	// the rotation happened.
	RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken, at time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string, at time.Time) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, at time.Time) (int64, error)

	// PurgeExpiredTokens deletes magic and refresh tokens that expired before before.
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}

// newOpaqueToken returns a random token and its storage hash.
func newOpaqueToken() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := hex.EncodeToString(buf)
	return raw, HashToken(raw), nil
}

// HashToken is the hex SHA-256 of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
