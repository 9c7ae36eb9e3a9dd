package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/i474232898/weather-api/internal/identity"
)

func (s *MemoryStore) CreateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return identity.ErrDuplicateEmail
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return identity.ErrUserNotFound
	}
	s.users[u.ID] = *u
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return identity.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) RecordLogin(_ context.Context, id string, at time.Time, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.LastLoginAt = &at
	u.LastLoginIP = ip
	u.LastLoginUserAgent = userAgent
	s.users[id] = u
	return nil
}

func magicKey(audience identity.Audience, hash string) string {
	return string(audience) + ":" + hash
}

func (s *MemoryStore) CreateMagicToken(_ context.Context, t *identity.MagicToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.magicTokens[magicKey(t.Audience, t.TokenHash)] = *t
	return nil
}

func (s *MemoryStore) FindMagicToken(_ context.Context, audience identity.Audience, tokenHash string) (*identity.MagicToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.magicTokens[magicKey(audience, tokenHash)]
	if !ok {
		return nil, identity.ErrTokenNotFound
	}
	return &t, nil
}

func (s *MemoryStore) ConsumeMagicToken(_ context.Context, audience identity.Audience, tokenHash string, at time.Time, meta identity.ClientMeta) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := magicKey(audience, tokenHash)
	t, ok := s.magicTokens[k]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(at) {
		return false, nil
	}
	t.UsedAt = &at
	t.ConsumedFromIP = meta.IP
	t.ConsumedFromUserAgent = meta.UserAgent
	s.magicTokens[k] = t
	return true, nil
}

func (s *MemoryStore) CreateRefreshToken(_ context.Context, t *identity.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[t.TokenHash] = *t
	return nil
}

func (s *MemoryStore) FindRefreshToken(_ context.Context, tokenHash string) (*identity.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, identity.ErrTokenNotFound
	}
	return &t, nil
}

func (s *MemoryStore) RotateRefreshToken(_ context.Context, oldHash string, next *identity.RefreshToken, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.refreshTokens[oldHash]
	if !ok || old.UsedAt != nil || old.RevokedAt != nil {
		return false, nil
	}
	old.UsedAt = &at
	old.ReplacedByTokenHash = next.TokenHash
	s.refreshTokens[oldHash] = old
	s.refreshTokens[next.TokenHash] = *next
	return true, nil
}

func (s *MemoryStore) RevokeRefreshToken(_ context.Context, tokenHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[tokenHash]
	if !ok {
		return identity.ErrTokenNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		s.refreshTokens[tokenHash] = t
	}
	return nil
}

func (s *MemoryStore) RevokeUserRefreshTokens(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.refreshTokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			s.refreshTokens[k] = t
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.magicTokens {
		if t.ExpiresAt.Before(before) {
			delete(s.magicTokens, k)
			n++
		}
	}
	for k, t := range s.refreshTokens {
		if t.ExpiresAt.Before(before) {
			delete(s.refreshTokens, k)
			n++
		}
	}
	return n, nil
}
