package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	entry     Entry
	expiresAt time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemStore is an in-memory Store for tests and single-process setups.
// Expired entries are dropped lazily on read.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]memEntry{}}
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	var expiresAt time.Time
	if opts.TTL > 0 {
		expiresAt = time.Now().Add(opts.TTL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memEntry{entry: entry, expiresAt: expiresAt}
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if e.expired(time.Now()) {
		delete(m.data, key)
		return Entry{}, ErrNotFound
	}
	return e.entry, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var _ Store = (*MemStore)(nil)
