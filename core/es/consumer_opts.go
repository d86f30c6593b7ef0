package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	consumerOpts struct {
		mws             []HandlerMiddleware
		log             *slog.Logger
		name            string
		metrics         ESMetrics
		shutdownTimeout time.Duration
		subOpts         []SubscribeOption
	}

	ConsumerOption interface {
		applyToConsumerOpts(*consumerOpts)
	}

	ConsumerNameOption  valueOption[string]
	MiddlewareOption    valueOption[[]HandlerMiddleware]
	ConsumerLogOption   valueOption[*slog.Logger]
	SubscribeOptsOption valueOption[[]SubscribeOption]
)

func (o ConsumerNameOption) applyToConsumerOpts(opts *consumerOpts) { opts.name = o.v }
func (o MiddlewareOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o ConsumerLogOption) applyToConsumerOpts(opts *consumerOpts) { opts.log = o.v }
func (o SubscribeOptsOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.subOpts = append(opts.subOpts, o.v...)
}

func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}

func WithConsumerName(name string) ConsumerNameOption { return ConsumerNameOption{name} }
func WithConsumerLog(l *slog.Logger) ConsumerLogOption {
	return ConsumerLogOption{v: l}
}

// WithSubscribeOpts forwards options to the underlying store subscription
// (poll interval, batch size, query filter).
func WithSubscribeOpts(opts ...SubscribeOption) SubscribeOptsOption {
	return SubscribeOptsOption{v: opts}
}

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		log:             slog.Default(),
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToConsumerOpts(&options)
	}
	return options
}
