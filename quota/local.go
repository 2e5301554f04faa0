package quota

import (
	"context"
	"sync"
	"time"
)

const localSweepInterval = time.Minute

type localWindow struct {
	count int64
	start time.Time
	ends  time.Time
}

// LocalStore keeps fixed-window counters in process memory. It does not share
// state between instances and is used when Redis is absent or unreachable.
type LocalStore struct {
	mu        sync.Mutex
	windows   map[string]*localWindow
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{windows: make(map[string]*localWindow), now: time.Now}
}

// IncrementAndCheck counts one request in the key's current window. The window
// starts with the first request and resets once it has fully elapsed.
func (s *LocalStore) IncrementAndCheck(_ context.Context, key string, window time.Duration, max int) (Decision, error) {
	if max < 1 {
		max = 1
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)

	w, ok := s.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &localWindow{start: now, ends: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return decide(w.count, w.ends.Sub(now), max), nil
}

func (s *LocalStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < localSweepInterval {
		return
	}
	s.lastSweep = now
	for k, w := range s.windows {
		if !now.Before(w.ends) {
			delete(s.windows, k)
		}
	}
}
