package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AdminCookieName    = "adminSession"
	FrontendCookieName = "frontendSession"

	AccessTokenTTL = 15 * time.Minute
)

var ErrNoSessionSecret = errors.New("session secret is not configured")

// Claims is the JWT payload of a session or access token.
type Claims struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

// Sessions signs and verifies HS256 tokens for one audience.
type Sessions struct {
	secret   []byte
	audience Audience
	clock    Clock
}

func NewSessions(secret string, audience Audience) (*Sessions, error) {
	if secret == "" {
		return nil, ErrNoSessionSecret
	}
	return &Sessions{secret: []byte(secret), audience: audience, clock: timeNowClock{}}, nil
}

// Issue signs a token for u valid for ttl.
func (s *Sessions) Issue(u *User, ttl time.Duration) (string, error) {
	now := s.clock.Now()
	claims := Claims{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{string(s.audience)},
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies a token and returns its claims.
func (s *Sessions) Parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSessionInvalid
		}
		return s.secret, nil
	},
		jwt.WithAudience(string(s.audience)),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}
