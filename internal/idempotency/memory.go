package idempotency

import (
	"context"
	"sync"
	"time"
)

const pruneEvery = 256

type memoryCache struct {
	mu      sync.Mutex
	until   map[string]time.Time
	max     int
	claims  uint64
	nowFunc func() time.Time
}

// NewMemory returns a process-local cache holding at most maxEntries keys
// (0 means 10000).
func NewMemory(maxEntries int) Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memoryCache{until: map[string]time.Time{}, max: maxEntries, nowFunc: time.Now}
}

func (m *memoryCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if exp, ok := m.until[key]; ok && now.Before(exp) {
		return false, nil
	}

	m.claims++
	if m.claims%pruneEvery == 0 || len(m.until) >= m.max {
		m.pruneLocked(now)
	}
	m.until[key] = now.Add(ttl)
	return true, nil
}

func (m *memoryCache) pruneLocked(now time.Time) {
	for k, exp := range m.until {
		if !now.Before(exp) {
			delete(m.until, k)
		}
	}
	// Still full: evict the entries closest to expiry.
	for len(m.until) >= m.max {
		var oldest string
		var at time.Time
		for k, exp := range m.until {
			if oldest == "" || exp.Before(at) {
				oldest, at = k, exp
			}
		}
		delete(m.until, oldest)
	}
}

func (m *memoryCache) Release(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	delete(m.until, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryCache) Close() error { return nil }
