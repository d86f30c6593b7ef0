package redis

import (
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/ports/kv"
)

func newTestClient(t *testing.T) *goredis.Client {
	ctx := t.Context()
	redisC, err := testcontainers.Run(
		ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestKvStore(t *testing.T) {
	client := newTestClient(t)
	ctx := t.Context()

	type fooBar struct {
		Foo string
		Bar int
	}

	s := NewKvStore(client, "test")

	_, err := kv.Get[fooBar](ctx, s, "missing")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, kv.Put(ctx, s, "f1", fooBar{Foo: "hello", Bar: 42}, kv.PutOptions{}))

	loaded, err := kv.Get[fooBar](ctx, s, "f1")
	require.NoError(t, err)
	require.Equal(t, fooBar{Foo: "hello", Bar: 42}, loaded)

	require.NoError(t, s.Delete(ctx, "f1"))
	_, err = kv.Get[fooBar](ctx, s, "f1")
	require.ErrorIs(t, err, kv.ErrNotFound)

	t.Run("prefix isolation", func(t *testing.T) {
		other := NewKvStore(client, "other")

		require.NoError(t, kv.Put(ctx, s, "shared", 1, kv.PutOptions{}))
		require.NoError(t, kv.Put(ctx, other, "shared", 2, kv.PutOptions{}))

		a, err := kv.Get[int](ctx, s, "shared")
		require.NoError(t, err)
		require.Equal(t, 1, a)

		b, err := kv.Get[int](ctx, other, "shared")
		require.NoError(t, err)
		require.Equal(t, 2, b)
	})

	t.Run("ttl", func(t *testing.T) {
		require.NoError(t, kv.Put(ctx, s, "ephemeral", "x", kv.PutOptions{TTL: 100 * time.Millisecond}))

		_, err := kv.Get[string](ctx, s, "ephemeral")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			_, err := kv.Get[string](ctx, s, "ephemeral")
			return err != nil
		}, 2*time.Second, 50*time.Millisecond)
	})

	t.Run("checkpoint store", func(t *testing.T) {
		cps := kv.NewCheckpointStore(s, "orders-projector")

		_, err := cps.Get()
		require.ErrorIs(t, err, es.ErrCheckpointNotFound)

		require.NoError(t, cps.Set(9))
		seen, err := cps.Get()
		require.NoError(t, err)
		require.Equal(t, uint64(9), seen)
	})
}
