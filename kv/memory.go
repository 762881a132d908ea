package kv

import (
	"sync"
	"time"
)

// Memory is a process-local fallback store mapping keys to values with an
// optional expiry. It is consulted when the shared store is down and the
// deployment allows degraded operation.
//
// Memory is NOT shared across processes or instances: while the shared store
// is unreachable, each process sees its own disjoint view of session state.
// That is a documented consistency limitation of degraded mode, not a defect.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time // zero means never
}

// NewMemory creates a fallback store whose entries expire after ttl.
// A non-positive ttl keeps entries until deleted.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Set stores a value, replacing any previous entry and restarting its expiry.
func (m *Memory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := memoryItem{value: value}
	if m.ttl > 0 {
		item.expiresAt = m.now().Add(m.ttl)
	}
	m.items[key] = item
}

// Get returns the stored value. Expired entries are evicted lazily and
// reported as absent.
func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return "", false
	}
	if !item.expiresAt.IsZero() && m.now().After(item.expiresAt) {
		delete(m.items, key)
		return "", false
	}
	return item.value, true
}

// Delete removes keys unconditionally.
func (m *Memory) Delete(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.items, key)
	}
}

// Len reports the number of live entries, counting expired ones that have
// not yet been evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
