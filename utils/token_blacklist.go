package utils

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/learnato/forum/cache"
)

const blacklistPrefix = "jwt:blacklist:"

// TokenBlacklist remembers revoked tokens until they would have expired anyway.
type TokenBlacklist struct {
	store cache.Store
}

func NewTokenBlacklist(store cache.Store) *TokenBlacklist {
	return &TokenBlacklist{store: store}
}

func blacklistKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return blacklistPrefix + hex.EncodeToString(sum[:])
}

// Revoke stores the token until expiresAt. Already expired tokens are ignored.
func (b *TokenBlacklist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return b.store.Set(ctx, blacklistKey(token), []byte("1"), ttl)
}

// IsRevoked reports whether token was revoked. Lookup failures count as not
// revoked so that a cache outage does not lock every user out.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, token string) bool {
	_, err := b.store.Get(ctx, blacklistKey(token))
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrMiss) && Logger != nil {
		Logger.Warn("token blacklist lookup failed", zap.Error(err))
	}
	return false
}
