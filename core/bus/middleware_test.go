package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
)

type validatedCommand struct{ Title string }

func (c validatedCommand) Validate() error {
	if c.Title == "" {
		return es.NewError(es.CodeValidation, "title required")
	}
	return nil
}

func TestValidation_RejectsBeforeHandler(t *testing.T) {
	b := NewCommandBus()

	var calls atomic.Int32
	err := RegisterCommand(b, func(ctx context.Context, cmd validatedCommand) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), validatedCommand{})
	require.Error(t, err)
	require.Equal(t, es.CodeValidation, es.CodeOf(err))
	require.Zero(t, calls.Load(), "handler must not run for invalid messages")

	_, err = b.Execute(t.Context(), validatedCommand{Title: "ok"})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestRetry_TransientErrors(t *testing.T) {
	b := NewCommandBus(WithRetry(RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	}))

	var calls atomic.Int32
	err := RegisterCommand(b, func(ctx context.Context, cmd createTicket) (any, error) {
		if calls.Add(1) < 3 {
			return nil, es.NewError(es.CodeUnavailable, "store down")
		}
		return "ok", nil
	})
	require.NoError(t, err)

	res, err := b.Execute(t.Context(), createTicket{})
	require.NoError(t, err)
	require.Equal(t, "ok", res)
	require.Equal(t, int32(3), calls.Load())
}

func TestRetry_PermanentErrorsSurfaceImmediately(t *testing.T) {
	b := NewCommandBus(WithRetry(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
	}))

	var calls atomic.Int32
	err := RegisterCommand(b, func(ctx context.Context, cmd createTicket) (any, error) {
		calls.Add(1)
		return nil, es.NewRuleViolationError("ticket_open", "ticket is closed")
	})
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), createTicket{})
	require.Error(t, err)
	require.Equal(t, es.CodeBusinessRuleViolation, es.CodeOf(err))
	require.Equal(t, int32(1), calls.Load(), "domain errors must not be retried")
}

func TestRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	b := NewCommandBus(WithRetry(RetryConfig{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
	}))

	var calls atomic.Int32
	err := RegisterCommand(b, func(ctx context.Context, cmd createTicket) (any, error) {
		calls.Add(1)
		return nil, es.NewError(es.CodeNetwork, "unreachable")
	})
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), createTicket{})
	require.Error(t, err)
	require.Equal(t, es.CodeNetwork, es.CodeOf(err))
	require.Equal(t, int32(2), calls.Load())
}

func TestTimeout(t *testing.T) {
	b := NewCommandBus(WithTimeout(20 * time.Millisecond))

	err := RegisterCommand(b, func(ctx context.Context, cmd createTicket) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "too late", nil
		}
	})
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), createTicket{})
	require.Error(t, err)
	require.Equal(t, es.CodeTimeout, es.CodeOf(err))
}

func TestCustomMiddleware_Order(t *testing.T) {
	var trace []string
	mw := func(tag string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg any) (any, error) {
				trace = append(trace, tag)
				return next(ctx, msg)
			}
		}
	}

	b := NewCommandBus(WithMiddleware(mw("outer"), mw("inner")))

	err := RegisterCommand(b, func(ctx context.Context, cmd createTicket) (any, error) {
		trace = append(trace, "handler")
		return nil, nil
	})
	require.NoError(t, err)

	_, err = b.Execute(t.Context(), createTicket{})
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner", "handler"}, trace)
}
