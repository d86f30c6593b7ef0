package es

import (
	"errors"
	"sync"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// CpStore persists the last processed global sequence for a consumer.
// Callers that persist checkpoints are guaranteed no double delivery across
// restarts: the consumer resumes at lastSeq+1.
type CpStore interface {
	Get() (lastSeq uint64, err error)
	Set(lastSeq uint64) error
}

type InMemCpStore struct {
	mu  sync.RWMutex
	v   uint64
	set bool
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{}
}

func (s *InMemCpStore) Get() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.set {
		return 0, ErrCheckpointNotFound
	}
	return s.v, nil
}

func (s *InMemCpStore) Set(v uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
	s.set = true
	return nil
}

var _ CpStore = (*InMemCpStore)(nil)
