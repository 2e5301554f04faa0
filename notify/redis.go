package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultChannel = "forum:events"

// RedisPublisher publishes events on a Redis channel so that every instance
// running a Relay delivers them to its own subscribers.
type RedisPublisher struct {
	rc      redis.UniversalClient
	channel string
}

func NewRedisPublisher(rc redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rc: rc, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	if err := p.rc.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Relay copies events from a Redis channel into a local Hub.
type Relay struct {
	ps     *redis.PubSub
	hub    *Hub
	logger *zap.Logger
	done   chan struct{}
}

// StartRelay subscribes to channel and returns once the subscription is confirmed.
func StartRelay(ctx context.Context, rc redis.UniversalClient, channel string, hub *Hub, logger *zap.Logger) (*Relay, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ps := rc.Subscribe(ctx, channel)
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := ps.Receive(cctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("notify: subscribe %s: %w", channel, err)
	}

	r := &Relay{ps: ps, hub: hub, logger: logger, done: make(chan struct{})}
	go r.run()
	return r, nil
}

func (r *Relay) run() {
	defer close(r.done)
	for msg := range r.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			r.logger.Warn("discarding malformed event", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}
		if err := r.hub.Publish(context.Background(), ev); err != nil {
			r.logger.Debug("relay hub closed", zap.Error(err))
			return
		}
	}
}

// Close stops the relay and waits for its goroutine to exit.
func (r *Relay) Close() error {
	err := r.ps.Close()
	<-r.done
	return err
}
