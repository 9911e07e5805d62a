package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. Data lives only as long as
// the running instance.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]memoryEntry
	lists map[string][]string
	now   func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]memoryEntry),
		lists: make(map[string][]string),
		now:   time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.data[key]
	if !exists {
		return "", ErrNotFound
	}

	if !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt) {
		delete(m.data, key)
		return "", ErrNotFound
	}

	return entry.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = entry

	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.lists, key)
	return nil
}

func (m *MemoryStore) PushCapped(ctx context.Context, key string, value string, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append([]string{value}, m.lists[key]...)
	if max > 0 && len(list) > max {
		list = list[:max]
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryStore) List(ctx context.Context, key string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
