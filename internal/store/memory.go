package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	val    []byte
	expiry time.Time // zero: never expires
	seq    uint64
}

// Memory is a process-local Store. When maxEntries is positive, inserting a new key
// into a full store first drops expired entries and then the oldest insertion.
type Memory struct {
	mu         sync.Mutex
	items      map[string]*memEntry
	maxEntries int
	seq        uint64
	now        func() time.Time
}

func NewMemory(maxEntries int) *Memory {
	return &Memory{items: make(map[string]*memEntry), maxEntries: maxEntries, now: time.Now}
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.items[key]; !exists && m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		m.evict(now)
	}
	m.seq++
	e := &memEntry{val: append([]byte(nil), value...), seq: m.seq}
	if ttl > 0 {
		e.expiry = now.Add(ttl)
	}
	m.items[key] = e
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiry.IsZero() && !m.now().Before(e.expiry) {
		delete(m.items, key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.val...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) evict(now time.Time) {
	for k, e := range m.items {
		if !e.expiry.IsZero() && !now.Before(e.expiry) {
			delete(m.items, k)
		}
	}
	if len(m.items) < m.maxEntries {
		return
	}
	var oldestKey string
	var oldest uint64
	for k, e := range m.items {
		if oldestKey == "" || e.seq < oldest {
			oldestKey, oldest = k, e.seq
		}
	}
	delete(m.items, oldestKey)
}
