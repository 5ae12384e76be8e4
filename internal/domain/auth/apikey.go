package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to back-office operations.
const ScopeAdmin = "admin"

var (
	// ErrUnauthorized is returned for a missing, unknown or under-scoped key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrKeyNotFound is returned by repositories when no active key matches.
	ErrKeyNotFound = errors.New("api key not found")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key carries scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator validates back-office API keys.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate looks up key and checks that it carries scope.
func (a *Authenticator) Authenticate(ctx context.Context, key, scope string) (*APIKeyInfo, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(a.pepper, key)

	info, err := a.keys.FindByHash(ctx, hash)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, errors.Wrap(err, "find api key")
	}

	// The stored row must match what we computed, compared in constant time.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(info.KeyHash)) != 1 {
		return nil, ErrUnauthorized
	}
	if scope != "" && !info.HasScope(scope) {
		return nil, ErrUnauthorized
	}
	return info, nil
}
