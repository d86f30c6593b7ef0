package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a correct, lock-based store for tests/dev. It enforces
// the entry state machine the same way the SQL adapters do.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: map[uuid.UUID]*Entry{}}
}

func (s *InMemoryStore) Enqueue(_ context.Context, entries ...*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		cp := *e
		if cp.Status == "" {
			cp.Status = StatusPending
		}
		if cp.Status != StatusPending {
			return fmt.Errorf("%w: enqueue with status %s", ErrIllegalTransition, cp.Status)
		}
		if cp.MaxRetries == 0 {
			cp.MaxRetries = DefaultMaxRetries
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now()
		}
		s.entries[cp.ID] = &cp
	}
	return nil
}

// fetch collects entries matching pred in creation order and marks them
// PROCESSING. Callers hold s.mu.
func (s *InMemoryStore) fetch(limit int, pred func(*Entry) bool) []*Entry {
	candidates := make([]*Entry, 0)
	for _, e := range s.entries {
		if pred(e) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].Event.Seq < candidates[j].Event.Seq
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*Entry, 0, len(candidates))
	for _, e := range candidates {
		e.Status = StatusProcessing
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (s *InMemoryStore) FetchPending(_ context.Context, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetch(limit, func(e *Entry) bool {
		return e.Status == StatusPending
	}), nil
}

func (s *InMemoryStore) FetchDueRetries(_ context.Context, now time.Time, limit int) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fetch(limit, func(e *Entry) bool {
		return e.Status == StatusFailed && e.Retryable() && !e.NextRetryAt.After(now)
	}), nil
}

func (s *InMemoryStore) MarkPublished(_ context.Context, ids ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		if e.Status != StatusProcessing {
			return fmt.Errorf("%w: %s -> PUBLISHED", ErrIllegalTransition, e.Status)
		}
		e.Status = StatusPublished
		e.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if e.Status != StatusProcessing {
		return fmt.Errorf("%w: %s -> FAILED", ErrIllegalTransition, e.Status)
	}
	e.Status = StatusFailed
	e.RetryCount++
	e.LastError = lastError
	e.NextRetryAt = nextRetryAt
	return nil
}

func (s *InMemoryStore) PurgePublished(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, e := range s.entries {
		if e.Status != StatusPublished {
			continue
		}
		if e.ProcessedAt != nil && e.ProcessedAt.Before(olderThan) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[Status]int{}
	for _, e := range s.entries {
		out[e.Status]++
	}
	return out, nil
}

// Get returns a copy of one entry, for tests.
func (s *InMemoryStore) Get(id uuid.UUID) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

var _ Store = (*InMemoryStore)(nil)
