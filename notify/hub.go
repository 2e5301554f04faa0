package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const DefaultBuffer = 64

type HubOptions struct {
	// Buffer is the per-subscriber queue length. Events for a full queue are dropped.
	Buffer int
	// Verify, when set, must accept a token before it can subscribe.
	Verify Verifier
}

// Hub is the in-process broadcaster. Publish never blocks on subscribers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	buffer  int
	verify  Verifier
	dropped atomic.Int64
	logger  *zap.Logger
}

func NewHub(opts HubOptions, logger *zap.Logger) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: opts.Buffer,
		verify: opts.Verify,
		logger: logger,
	}
}

// Subscription is one connected client.
type Subscription struct {
	id   uint64
	ch   chan Event
	hub  *Hub
	once sync.Once
}

// Events is closed when the subscription or the hub is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s.id) })
}

// Subscribe registers a client. An empty token is always rejected.
func (h *Hub) Subscribe(token string) (*Subscription, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	if h.verify != nil {
		if err := h.verify(token); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.nextID++
	s := &Subscription{id: h.nextID, ch: make(chan Event, h.buffer), hub: h}
	h.subs[s.id] = s
	return s, nil
}

// Publish hands ev to every current subscriber without waiting.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for _, s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Debug("subscriber queue full, dropping event",
				zap.Uint64("subscriber", s.id), zap.String("kind", string(ev.Kind)))
		}
	}
	return nil
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close disconnects every subscriber. Later publishes return ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
