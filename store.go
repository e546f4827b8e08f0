package mediacache

import (
	"context"
	"sync"

	"mediacache/common"
)

// --- Default In-Memory Store ---

// memoryStore implements Store with a plain map plus insertion-order
// bookkeeping so Keys can hand the eviction pass an oldest-first ordering.
// It also keeps per-operation counters for Stats, mirroring what the other
// tiers expose.
type memoryStore struct {
	capacity int // 0 means unbounded

	mu       sync.Mutex
	entries  map[string]string
	order    []string // keys in first-write order
	counters map[string]int
	closed   bool
}

// NewMemoryStore creates an in-memory Store. A capacity of 0 means unbounded;
// otherwise Set returns common.ErrQuotaExceeded once capacity distinct keys
// are held, leaving eviction policy to the caller.
func NewMemoryStore(capacity int) Store {
	return &memoryStore{
		capacity: capacity,
		entries:  make(map[string]string),
		counters: make(map[string]int),
	}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incr("Get")
	if m.closed {
		return "", common.ErrStoreClosed
	}
	if v, ok := m.entries[key]; ok {
		m.incr("GetHit")
		return v, nil
	}
	m.incr("GetMiss")
	return "", common.ErrNotFound
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incr("Set")
	if m.closed {
		return common.ErrStoreClosed
	}
	if _, exists := m.entries[key]; !exists {
		if m.capacity > 0 && len(m.entries) >= m.capacity {
			m.incr("SetQuotaExceeded")
			return common.ErrQuotaExceeded
		}
		m.order = append(m.order, key)
	}
	m.entries[key] = value
	return nil
}

func (m *memoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incr("Remove")
	if m.closed {
		return common.ErrStoreClosed
	}
	if _, ok := m.entries[key]; !ok {
		return nil
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incr("Clear")
	if m.closed {
		return common.ErrStoreClosed
	}
	m.entries = make(map[string]string)
	m.order = nil
	return nil
}

// Keys returns stored keys in first-write order (oldest first).
func (m *memoryStore) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, common.ErrStoreClosed
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *memoryStore) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, common.ErrStoreClosed
	}
	return len(m.entries), nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	m.order = nil
	return nil
}

// incr bumps an operation counter. Caller must hold mu.
func (m *memoryStore) incr(name string) {
	m.counters[name]++
}

// stats clones the operation counters.
func (m *memoryStore) stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := make(map[string]int, len(m.counters))
	for k, v := range m.counters {
		cloned[k] = v
	}
	return Stats{Counters: cloned}
}
