package cache

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store on top of sturdyc. It is per instance, so it only
// suits single-instance deployments and tests; invalidations do not propagate.
type Memory struct {
	client *sturdyc.Client[memoryEntry]
	now    func() time.Time
}

// NewMemory creates a sharded in-process cache. maxTTL bounds how long sturdyc
// keeps any entry; shorter per-key TTLs are enforced on read.
func NewMemory(capacity int, maxTTL time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 10000
	}
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &Memory{
		client: sturdyc.New[memoryEntry](capacity, 64, maxTTL, 10),
		now:    time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.client.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !m.now().Before(e.expiresAt) {
		m.client.Delete(key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.client.Set(key, memoryEntry{value: append([]byte(nil), value...), expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.client.Delete(key)
	return nil
}

func (m *Memory) DeleteNamespace(_ context.Context, prefix string) error {
	for _, key := range m.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			m.client.Delete(key)
		}
	}
	return nil
}
