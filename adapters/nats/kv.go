package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/cqrs-go/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
}

// KvStore backs ports/kv with a JetStream key-value bucket.
type KvStore struct {
	kv    jetstream.KeyValue
	close closeFunc
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeCon()
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: 1024 * 1024,
	})
	if err != nil {
		closeCon()
		return nil, err
	}

	return &KvStore{kv: bucket, close: closeCon}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, _ kv.PutOptions) error {
	_, err := k.kv.Put(ctx, key, entry.Data)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, err
	}
	return kv.Entry{Data: v.Value()}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	return k.kv.Delete(ctx, key)
}

func (k *KvStore) Close() {
	if k.close != nil {
		k.close()
	}
}

var _ kv.Store = (*KvStore)(nil)
