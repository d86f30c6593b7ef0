package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/ports/kv"
)

type CpStoreConfig struct {
	Connect Connector
	Bucket  string
	// Key identifies the consumer within the bucket.
	Key string
}

// CpStore keeps a consumer checkpoint in a JetStream key-value bucket.
type CpStore struct {
	kv  *KvStore
	key string
}

func NewCpStore(cfg CpStoreConfig) (*CpStore, error) {
	if cfg.Key == "" {
		return nil, errors.New("key is required")
	}
	store, err := NewKvStore(KvConfig{
		Bucket:  cfg.Bucket,
		Connect: cfg.Connect,
	})
	if err != nil {
		return nil, err
	}
	return &CpStore{kv: store, key: cfg.Key}, nil
}

func (s *CpStore) Get() (lastSeq uint64, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lastSeq, err = kv.Get[uint64](ctx, s.kv, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, es.ErrCheckpointNotFound
		}
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	return lastSeq, nil
}

func (s *CpStore) Set(lastSeq uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return kv.Put[uint64](ctx, s.kv, s.key, lastSeq, kv.PutOptions{})
}

func (s *CpStore) Close() { s.kv.Close() }

var _ es.CpStore = (*CpStore)(nil)
