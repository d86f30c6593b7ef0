package kv

import (
	"context"
	"errors"
	"time"

	"github.com/codewandler/cqrs-go/core/es"
)

// CheckpointStore adapts any kv Store into a consumer checkpoint store.
type CheckpointStore struct {
	store Store
	key   string
}

func NewCheckpointStore(store Store, key string) *CheckpointStore {
	return &CheckpointStore{store: store, key: key}
}

func (c *CheckpointStore) Get() (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lastSeq, err := Get[uint64](ctx, c.store, c.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, es.ErrCheckpointNotFound
		}
		return 0, err
	}
	return lastSeq, nil
}

func (c *CheckpointStore) Set(lastSeq uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Put[uint64](ctx, c.store, c.key, lastSeq, PutOptions{})
}

var _ es.CpStore = (*CheckpointStore)(nil)
