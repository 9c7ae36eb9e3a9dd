package admission

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const keyBytes = 24

// ErrMissingSecret is returned when no hashing secret is configured.
var ErrMissingSecret = errors.New("CLIENT_API_KEY_HASH_SECRET is not configured")

// KeyHasher derives the lookup hash of an API key.
type KeyHasher struct {
	secret []byte
}

func NewKeyHasher(secret string) (*KeyHasher, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &KeyHasher{secret: []byte(secret)}, nil
}

// Hash returns the hex HMAC-SHA256 of the trimmed key.
func (h *KeyHasher) Hash(rawKey string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(strings.TrimSpace(rawKey)))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateKey returns a new random key, base64url encoded without padding.
func GenerateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
