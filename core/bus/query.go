package bus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/codewandler/cqrs-go/core/cache"
)

// QueryBus dispatches queries through the same pipeline as the CommandBus,
// optionally serving repeated queries from a bounded result cache.
type QueryBus struct {
	reg  *registry
	opts busOpts
}

func NewQueryBus(opts ...Option) *QueryBus {
	return &QueryBus{
		reg:  newRegistry(),
		opts: newBusOpts(opts...),
	}
}

type registerOpts struct {
	cacheTTL time.Duration
}

type RegisterOption func(*registerOpts)

// WithCacheTTL opts a query registration into result caching. Requires the
// bus to be constructed with WithResultCache.
func WithCacheTTL(ttl time.Duration) RegisterOption {
	return func(o *registerOpts) { o.cacheTTL = ttl }
}

// Register binds a handler to a query name. Registering the same name twice
// is an error.
func (b *QueryBus) Register(name string, h Handler, opts ...RegisterOption) error {
	ro := registerOpts{}
	for _, opt := range opts {
		opt(&ro)
	}

	pipeline := b.opts.pipeline(KindQuery, h)
	if ro.cacheTTL > 0 && b.opts.cache != nil {
		pipeline = b.cached(name, ro.cacheTTL, pipeline)
	}
	return b.reg.register(name, pipeline)
}

// Execute dispatches q to the handler registered for its name.
func (b *QueryBus) Execute(ctx context.Context, q any) (any, error) {
	h, err := b.reg.resolve(NameOf(q))
	if err != nil {
		return nil, err
	}
	return h(ctx, q)
}

// cached wraps next so that identical queries within the TTL share one
// result. Keys combine the query name with a digest of the serialized query,
// so two queries with equal parameters collide and distinct ones never do.
func (b *QueryBus) cached(name string, ttl time.Duration, next Handler) Handler {
	return func(ctx context.Context, msg any) (any, error) {
		key, err := cacheKey(name, msg)
		if err != nil {
			return next(ctx, msg)
		}

		if res, ok := b.opts.cache.Get(key); ok {
			b.opts.metrics.CacheHit(name)
			return res, nil
		}
		b.opts.metrics.CacheMiss(name)

		res, err := next(ctx, msg)
		if err != nil {
			return nil, err
		}
		b.opts.cache.Put(key, res, cache.WithTTL(ttl))
		return res, nil
	}
}

func cacheKey(name string, q any) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("serialize query for cache key: %w", err)
	}
	sum := blake2b.Sum256(data)
	return name + ":" + hex.EncodeToString(sum[:]), nil
}

// RegisterQuery binds a typed handler for the query type Q.
func RegisterQuery[Q any](b *QueryBus, h func(ctx context.Context, q Q) (any, error), opts ...RegisterOption) error {
	return b.Register(NameFor[Q](), func(ctx context.Context, msg any) (any, error) {
		return h(ctx, msg.(Q))
	}, opts...)
}

// ExecuteQuery dispatches q and asserts the result type.
func ExecuteQuery[R any](ctx context.Context, b *QueryBus, q any) (R, error) {
	var zero R
	res, err := b.Execute(ctx, q)
	if err != nil {
		return zero, err
	}
	out, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("query %s returned %T, want %T", NameOf(q), res, zero)
	}
	return out, nil
}
