package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/codewandler/cqrs-go/core/cache"
)

type busOpts struct {
	log     *slog.Logger
	metrics Metrics
	retry   RetryConfig
	timeout time.Duration
	extra   []Middleware
	cache   cache.Cache
}

type Option func(*busOpts)

func WithLog(log *slog.Logger) Option {
	return func(o *busOpts) { o.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(o *busOpts) { o.metrics = m }
}

func WithRetry(cfg RetryConfig) Option {
	return func(o *busOpts) { o.retry = cfg }
}

func WithTimeout(d time.Duration) Option {
	return func(o *busOpts) { o.timeout = d }
}

// WithMiddleware appends middlewares between validation and retry.
func WithMiddleware(mws ...Middleware) Option {
	return func(o *busOpts) { o.extra = append(o.extra, mws...) }
}

// WithResultCache enables query result caching, for registrations that opt in
// via WithCacheTTL. Commands ignore it.
func WithResultCache(c cache.Cache) Option {
	return func(o *busOpts) { o.cache = c }
}

func newBusOpts(opts ...Option) busOpts {
	o := busOpts{
		log:     slog.Default(),
		metrics: NopMetrics(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// pipeline builds the full middleware chain around h. Logging and metrics are
// outermost so they observe the final outcome; timeout sits directly around
// the handler so every retry attempt gets a fresh deadline.
func (o *busOpts) pipeline(kind Kind, h Handler) Handler {
	mws := []Middleware{
		NewLoggingMiddleware(o.log, kind),
		NewMetricsMiddleware(o.metrics, kind),
		NewValidationMiddleware(),
	}
	mws = append(mws, o.extra...)
	mws = append(mws,
		NewRetryMiddleware(o.log, o.metrics, kind, o.retry),
		NewTimeoutMiddleware(o.timeout),
	)
	return Chain(h, mws...)
}

// CommandBus dispatches commands to their registered handlers through the
// middleware pipeline. Exactly one handler serves each command type.
type CommandBus struct {
	reg  *registry
	opts busOpts
}

func NewCommandBus(opts ...Option) *CommandBus {
	return &CommandBus{
		reg:  newRegistry(),
		opts: newBusOpts(opts...),
	}
}

// Register binds a handler to a command name. Registering the same name
// twice is an error.
func (b *CommandBus) Register(name string, h Handler) error {
	return b.reg.register(name, b.opts.pipeline(KindCommand, h))
}

// Execute dispatches cmd to the handler registered for its name.
func (b *CommandBus) Execute(ctx context.Context, cmd any) (any, error) {
	h, err := b.reg.resolve(NameOf(cmd))
	if err != nil {
		return nil, err
	}
	return h(ctx, cmd)
}

// RegisterCommand binds a typed handler for the command type C.
func RegisterCommand[C any](b *CommandBus, h func(ctx context.Context, cmd C) (any, error)) error {
	return b.Register(NameFor[C](), func(ctx context.Context, msg any) (any, error) {
		return h(ctx, msg.(C))
	})
}
