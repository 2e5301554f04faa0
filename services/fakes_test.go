package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/learnato/forum/cache"
	"github.com/learnato/forum/models"
	"github.com/learnato/forum/notify"
	"github.com/learnato/forum/store"
)

var errDown = errors.New("connection refused")

// journal records the order of side effects across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	down    bool
	writes  int
	deletes []string
	log     *journal
}

func newFakeCache(log *journal) *fakeCache {
	return &fakeCache{data: make(map[string][]byte), log: log}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return nil, errDown
	}
	b, ok := c.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return b, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return errDown
	}
	c.writes++
	c.data[key] = value
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.add("invalidate " + key)
	if c.down {
		return errDown
	}
	c.deletes = append(c.deletes, key)
	delete(c.data, key)
	return nil
}

func (c *fakeCache) DeleteNamespace(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.add("invalidate " + prefix + "*")
	if c.down {
		return errDown
	}
	c.deletes = append(c.deletes, prefix+"*")
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *fakeCache) mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deletes)
}

type recordingBus struct {
	mu     sync.Mutex
	events []notify.Event
	fail   bool
	log    *journal
}

func (b *recordingBus) Publish(_ context.Context, ev notify.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log.add("publish " + string(ev.Kind))
	if b.fail {
		return errDown
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) published() []notify.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notify.Event(nil), b.events...)
}

// journalStore wraps a PostStore, recording writes and optionally failing them.
type journalStore struct {
	store.PostStore
	log        *journal
	failWrites bool
	failViews  bool
	finds      int
	mu         sync.Mutex
}

func (s *journalStore) Insert(ctx context.Context, p *models.Post) (string, error) {
	s.log.add("persist insert")
	if s.failWrites {
		return "", errDown
	}
	return s.PostStore.Insert(ctx, p)
}

func (s *journalStore) AtomicUpdate(ctx context.Context, id string, m store.Mutation) (*models.Post, error) {
	s.log.add("persist update")
	if s.failWrites {
		return nil, errDown
	}
	return s.PostStore.AtomicUpdate(ctx, id, m)
}

func (s *journalStore) FindByID(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	s.finds++
	s.mu.Unlock()
	return s.PostStore.FindByID(ctx, id)
}

func (s *journalStore) IncrementField(ctx context.Context, id, field string) error {
	if s.failViews {
		return errDown
	}
	return s.PostStore.IncrementField(ctx, id, field)
}

// hangingCache never answers; every call waits for its context to end.
type hangingCache struct{}

func (hangingCache) Get(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingCache) Set(ctx context.Context, _ string, _ []byte, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingCache) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingCache) DeleteNamespace(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
