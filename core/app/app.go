package app

import (
	"context"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/cqrs-go/core/bus"
	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/outbox"
)

type OutboxConfig struct {
	Store     outbox.Store
	Publisher outbox.Publisher
	Processor outbox.ProcessorConfig
}

type Config struct {
	Context context.Context
	Log     *slog.Logger
	// Name identifies the application instance in logs.
	Name string

	// Store is required. Use es.NewInMemoryStore for tests and development.
	Store es.EventStore

	// Outbox is optional; without it no processor runs.
	Outbox *OutboxConfig

	// Bus options apply to both buses.
	Bus []bus.Option
}

// App wires the CQRS stack: the event store, the command and query buses,
// the outbox processor and any registered consumers, with ordered startup
// and shutdown.
type App struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	log       *slog.Logger

	store     es.EventStore
	commands  *bus.CommandBus
	queries   *bus.QueryBus
	processor *outbox.Processor

	mu        sync.Mutex
	consumers []*es.Consumer
	started   bool

	done     chan struct{}
	stopOnce sync.Once
}

func New(config Config) (*App, error) {
	if config.Store == nil {
		return nil, es.NewError(es.CodeValidation, "app requires an event store")
	}
	if config.Name == "" {
		config.Name = "app-" + gonanoid.Must(6)
	}
	if config.Log == nil {
		config.Log = slog.Default()
	}
	if config.Context == nil {
		config.Context = context.Background()
	}

	app := &App{
		log:   config.Log.With(slog.String("app", config.Name)),
		store: config.Store,
		done:  make(chan struct{}),
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	busOpts := append([]bus.Option{bus.WithLog(app.log)}, config.Bus...)
	app.commands = bus.NewCommandBus(busOpts...)
	app.queries = bus.NewQueryBus(busOpts...)

	if config.Outbox != nil {
		cfg := config.Outbox.Processor
		if cfg.Log == nil {
			cfg.Log = app.log
		}
		app.processor = outbox.NewProcessor(config.Outbox.Store, config.Outbox.Publisher, cfg)
	}

	return app, nil
}

func (a *App) Store() es.EventStore         { return a.store }
func (a *App) Commands() *bus.CommandBus    { return a.commands }
func (a *App) Queries() *bus.QueryBus       { return a.queries }
func (a *App) Processor() *outbox.Processor { return a.processor }

// AddConsumer registers a consumer to be started and stopped with the app.
// Consumers added after Run are started immediately.
func (a *App) AddConsumer(c *es.Consumer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.consumers = append(a.consumers, c)
	if a.started {
		return c.Start(a.ctx)
	}
	return nil
}

// Run starts the outbox processor and all registered consumers.
func (a *App) Run() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return nil
	}

	if a.processor != nil {
		a.processor.Start(a.ctx)
	}
	for _, c := range a.consumers {
		if err := c.Start(a.ctx); err != nil {
			return err
		}
	}

	a.started = true
	a.log.Info("app started")
	return nil
}

// Stop shuts the app down: consumers first so no event handler observes a
// stopped store, then the outbox processor. Idempotent.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		consumers := a.consumers
		a.mu.Unlock()

		for _, c := range consumers {
			c.Stop()
		}
		if a.processor != nil {
			a.processor.Stop()
		}
		a.cancelCtx()
		close(a.done)
		a.log.Info("app stopped")
	})
}

// Shutdown stops the app, bounded by ctx.
func (a *App) Shutdown(ctx context.Context) error {
	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the app has stopped.
func (a *App) Done() <-chan struct{} { return a.done }

// Run creates an app and starts it.
func Run(config Config) (*App, error) {
	app, err := New(config)
	if err != nil {
		return nil, err
	}
	if err := app.Run(); err != nil {
		return nil, err
	}
	return app, nil
}
