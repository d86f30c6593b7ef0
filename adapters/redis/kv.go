// Package redis backs the kv port with Redis, for checkpoints and other
// small shared state that must survive process restarts.
package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/codewandler/cqrs-go/ports/kv"
)

type KvStore struct {
	client *redis.Client
	prefix string
}

func NewKvStore(client *redis.Client, prefix string) *KvStore {
	return &KvStore{client: client, prefix: prefix}
}

func (s *KvStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	return s.client.Set(ctx, s.key(key), entry.Data, opts.TTL).Err()
}

func (s *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, err
	}
	return kv.Entry{Data: data}, nil
}

func (s *KvStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

var _ kv.Store = (*KvStore)(nil)
