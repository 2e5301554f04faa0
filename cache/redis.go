package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultOpTimeout = 500 * time.Millisecond
	scanBatch        = 1000

	// namespaceTimeoutFactor applies when the caller sets no deadline.
	namespaceTimeoutFactor = 6
)

// Redis is a Store backed by a shared Redis instance, so every service
// instance sees the same entries and invalidations.
type Redis struct {
	rc      redis.UniversalClient
	timeout time.Duration
}

// NewRedis wraps rc. A non-positive timeout falls back to 500ms per call.
func NewRedis(rc redis.UniversalClient, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Redis{rc: rc, timeout: timeout}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	b, err := r.rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rc.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rc.Del(ctx, key).Err()
}

// DeleteNamespace deletes every key with the given prefix, scanning until the
// cursor wraps. The context deadline bounds the work; running out of time is
// reported as an error because keys may survive.
func (r *Redis) DeleteNamespace(ctx context.Context, prefix string) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, namespaceTimeoutFactor*r.timeout)
		defer cancel()
	}
	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cache: delete namespace %s incomplete: %w", prefix, err)
		}
		keys, next, err := r.rc.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache: scan %s: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := r.rc.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: delete %d keys under %s: %w", len(keys), prefix, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
