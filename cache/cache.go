// Package cache provides the side cache used by the post service. It is never a
// source of truth: every backend may lose entries, and callers must treat errors
// as "cache unavailable" rather than as request failures.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is a key/value cache with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteNamespace removes every key starting with prefix.
	DeleteNamespace(ctx context.Context, prefix string) error
}

// Nop is the cache used when none is configured: every read misses and every
// write succeeds without effect.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, string) error { return nil }
func (Nop) DeleteNamespace(context.Context, string) error { return nil }
