package bus

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/codewandler/cqrs-go/core/es"
)

// Validatable messages are checked before the handler runs.
type Validatable interface {
	Validate() error
}

// NewValidationMiddleware rejects messages whose Validate method fails with a
// VALIDATION_ERROR, before any downstream middleware runs.
func NewValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg any) (any, error) {
			if v, ok := msg.(Validatable); ok {
				if err := v.Validate(); err != nil {
					return nil, es.NewError(es.CodeValidation, "%s: %s", NameOf(msg), err)
				}
			}
			return next(ctx, msg)
		}
	}
}

// NewLoggingMiddleware logs every execution with its outcome and duration.
func NewLoggingMiddleware(log *slog.Logger, kind Kind) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg any) (any, error) {
			name := NameOf(msg)
			start := time.Now()

			res, err := next(ctx, msg)

			attrs := []any{
				slog.String("kind", string(kind)),
				slog.String("name", name),
				slog.Duration("duration", time.Since(start)),
			}
			if md := MetadataFrom(ctx); md.CorrelationID != "" {
				attrs = append(attrs, slog.String("correlation_id", md.CorrelationID))
			}
			if err != nil {
				attrs = append(attrs,
					slog.String("code", string(es.CodeOf(err))),
					slog.Any("error", err),
				)
				log.Warn("execution failed", attrs...)
				return nil, err
			}
			log.Debug("executed", attrs...)
			return res, nil
		}
	}
}

// NewMetricsMiddleware records execution durations and failures by code.
func NewMetricsMiddleware(m Metrics, kind Kind) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg any) (any, error) {
			name := NameOf(msg)
			timer := m.ExecuteDuration(kind, name)

			res, err := next(ctx, msg)
			timer.ObserveDuration()

			if err != nil {
				m.ExecuteFailure(kind, name, es.CodeOf(err))
			}
			return res, err
		}
	}
}

// RetryConfig tunes the retry middleware.
type RetryConfig struct {
	// MaxAttempts counts the first try plus retries.
	MaxAttempts uint
	// InitialDelay seeds the jittered exponential backoff.
	InitialDelay time.Duration
	// RetryableCodes allow-lists the error codes that trigger a retry.
	// Everything else surfaces immediately.
	RetryableCodes []es.Code
}

func defaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		RetryableCodes: []es.Code{
			es.CodeTimeout,
			es.CodeUnavailable,
			es.CodeNetwork,
		},
	}
}

// NewRetryMiddleware retries handler execution on allow-listed error codes
// with jittered exponential backoff. Conflicts, validation failures and other
// domain errors are never retried.
func NewRetryMiddleware(log *slog.Logger, m Metrics, kind Kind, cfg RetryConfig) Middleware {
	if m == nil {
		m = NopMetrics()
	}
	def := defaultRetryConfig()
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if len(cfg.RetryableCodes) == 0 {
		cfg.RetryableCodes = def.RetryableCodes
	}

	retryable := func(err error) bool {
		code := es.CodeOf(err)
		for _, c := range cfg.RetryableCodes {
			if c == code {
				return true
			}
		}
		return false
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, msg any) (any, error) {
			name := NameOf(msg)
			attempt := 0

			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = cfg.InitialDelay

			return backoff.Retry(ctx, func() (any, error) {
				attempt++
				if attempt > 1 {
					m.RetryAttempt(kind, name)
				}
				log.Debug("execution attempt",
					slog.String("kind", string(kind)),
					slog.String("name", name),
					slog.Int("attempt", attempt),
				)

				res, err := next(ctx, msg)
				if err != nil && !retryable(err) {
					return nil, backoff.Permanent(err)
				}
				return res, err
			}, backoff.WithBackOff(bo), backoff.WithMaxTries(cfg.MaxAttempts))
		}
	}
}

// NewTimeoutMiddleware bounds handler execution. The handler receives the
// derived context and is expected to honor its cancellation; expiry surfaces
// as TIMEOUT.
func NewTimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res, err := next(ctx, msg)
			if err != nil && errors.Is(err, context.DeadlineExceeded) {
				return nil, es.NewError(es.CodeTimeout, "%s exceeded %s", NameOf(msg), timeout)
			}
			return res, err
		}
	}
}
