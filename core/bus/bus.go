// Package bus provides typed command and query dispatch with a middleware
// pipeline. One handler serves each message type; middleware wraps handler
// execution with validation, retry, timeout, logging and metrics. The query
// bus additionally supports result caching and a pagination helper.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/internal/reflector"
)

var ErrHandlerRegistered = errors.New("handler already registered")

// Handler executes one message and returns its result.
type Handler func(ctx context.Context, msg any) (any, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// Chain applies middlewares so that the first one is outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Namer overrides the registration name derived from the Go type.
type Namer interface {
	MessageName() string
}

// NameOf returns the dispatch name for msg.
func NameOf(msg any) string {
	if n, ok := msg.(Namer); ok {
		return n.MessageName()
	}
	return reflector.TypeInfoOf(msg).Name
}

// NameFor returns the dispatch name for the type T.
func NameFor[T any]() string {
	var zero T
	if n, ok := any(zero).(Namer); ok {
		return n.MessageName()
	}
	return reflector.TypeInfoFor[T]().Name
}

// registry is the shared register/resolve core of both buses.
type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newRegistry() *registry {
	return &registry{handlers: map[string]Handler{}}
}

func (r *registry) register(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return es.NewError(es.CodeAlreadyExists, "handler for %s: %s", name, ErrHandlerRegistered)
	}
	r.handlers[name] = h
	return nil
}

func (r *registry) resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[name]
	if !ok {
		return nil, es.NewError(es.CodeHandlerNotFound, "no handler registered for %s", name)
	}
	return h, nil
}

type metadataKey struct{}

// WithMetadata attaches request metadata to the context. Handlers forward it
// into appended envelopes via the repository's event-metadata option.
func WithMetadata(ctx context.Context, md es.Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFrom returns the request metadata, or the zero value.
func MetadataFrom(ctx context.Context) es.Metadata {
	md, _ := ctx.Value(metadataKey{}).(es.Metadata)
	return md
}
