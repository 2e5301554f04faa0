// Package quota implements fixed-window request quotas shared by every
// instance of the service, with a configurable behaviour when the shared
// counter store cannot be reached.
package quota

import (
	"context"
	"time"
)

// Class names a family of requests sharing one rule.
type Class string

const (
	ClassAPI  Class = "api"
	ClassAuth Class = "auth"
	ClassPost Class = "post"
)

// Rule is the number of requests admitted per window.
type Rule struct {
	Max    int
	Window time.Duration
}

// DefaultRules returns the built-in limits for each class.
func DefaultRules() map[Class]Rule {
	return map[Class]Rule{
		ClassAPI:  {Max: 100, Window: 15 * time.Minute},
		ClassAuth: {Max: 5, Window: time.Hour},
		ClassPost: {Max: 10, Window: time.Hour},
	}
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int64
	Remaining  int
	RetryAfter time.Duration
	// Degraded is set when the decision was made without the shared store.
	Degraded   bool
}

// Store counts requests per key.
type Store interface {
	// IncrementAndCheck counts one request against key. A new counter lives
	// for window; the request is allowed while the count is at most max.
	IncrementAndCheck(ctx context.Context, key string, window time.Duration, max int) (Decision, error)
}

// Key returns the counter key for a client in a class.
func Key(class Class, clientID string) string {
	return "rl:" + string(class) + ":" + clientID
}

func decide(count int64, ttl time.Duration, max int) Decision {
	d := Decision{Allowed: count <= int64(max), Limit: max, Count: count}
	if rem := int64(max) - count; rem > 0 {
		d.Remaining = int(rem)
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}
