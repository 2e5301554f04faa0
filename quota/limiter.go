package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FailPolicy decides admission when the shared store fails.
type FailPolicy string

const (
	// FailOpen admits the request.
	FailOpen FailPolicy = "open"
	// FailClosed denies the request with a one second retry-after.
	FailClosed FailPolicy = "closed"
	// FailLocal falls back to per-instance fixed-window counters.
	FailLocal FailPolicy = "local"
)

const (
	defaultTimeout   = 300 * time.Millisecond
	closedRetryAfter = time.Second
	degradedLogEvery = 10 * time.Second
)

// ParseFailPolicy maps a config value to a policy; empty means FailOpen.
func ParseFailPolicy(s string) (FailPolicy, error) {
	switch FailPolicy(s) {
	case "", FailOpen:
		return FailOpen, nil
	case FailClosed, FailLocal:
		return FailPolicy(s), nil
	}
	return "", fmt.Errorf("quota: unknown fail policy %q", s)
}

type Options struct {
	Rules      map[Class]Rule
	FailPolicy FailPolicy
	Timeout    time.Duration
}

// Limiter admits requests by class and client id.
type Limiter struct {
	store    Store
	fallback Store
	rules    map[Class]Rule
	policy   FailPolicy
	timeout  time.Duration
	logger   *zap.Logger
	// warn throttles the degraded-store warning to one per degradedLogEvery.
	warn     rate.Sometimes
}

func NewLimiter(store Store, opts Options, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	rules := DefaultRules()
	for c, r := range opts.Rules {
		rules[c] = r
	}
	if opts.FailPolicy == "" {
		opts.FailPolicy = FailOpen
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	l := &Limiter{
		store:   store,
		rules:   rules,
		policy:  opts.FailPolicy,
		timeout: opts.Timeout,
		logger:  logger,
		warn:    rate.Sometimes{Interval: degradedLogEvery},
	}
	if l.policy == FailLocal {
		l.fallback = NewLocalStore()
	}
	return l
}

// Rule returns the rule configured for class.
func (l *Limiter) Rule(class Class) (Rule, bool) {
	r, ok := l.rules[class]
	return r, ok
}

// Admit counts one request for clientID in class. It only returns an error for
// an unknown class; store failures are resolved by the fail policy.
func (l *Limiter) Admit(ctx context.Context, class Class, clientID string) (Decision, error) {
	rule, ok := l.rules[class]
	if !ok {
		return Decision{}, fmt.Errorf("quota: unknown class %q", class)
	}
	key := Key(class, clientID)

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	d, err := l.store.IncrementAndCheck(cctx, key, rule.Window, rule.Max)
	cancel()
	if err == nil {
		return d, nil
	}

	l.warn.Do(func() {
		l.logger.Warn("quota store unavailable",
			zap.String("class", string(class)),
			zap.String("policy", string(l.policy)),
			zap.Error(err))
	})

	switch l.policy {
	case FailClosed:
		return Decision{Limit: rule.Max, RetryAfter: closedRetryAfter, Degraded: true}, nil
	case FailLocal:
		d, _ := l.fallback.IncrementAndCheck(ctx, key, rule.Window, rule.Max)
		d.Degraded = true
		return d, nil
	default:
		return Decision{Allowed: true, Limit: rule.Max, Remaining: rule.Max, Degraded: true}, nil
	}
}
