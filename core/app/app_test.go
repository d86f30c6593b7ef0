package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/bus"
	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/outbox"
)

type (
	ping struct{ Seq int }
	pong struct{ Seq int }
)

func TestApp(t *testing.T) {
	a, err := Run(Config{Store: es.NewInMemoryStore()})
	require.NoError(t, err)
	require.NotNil(t, a)
	defer a.Stop()

	err = bus.RegisterCommand(a.Commands(), func(ctx context.Context, p ping) (any, error) {
		return pong{Seq: p.Seq + 1}, nil
	})
	require.NoError(t, err)

	res, err := a.Commands().Execute(t.Context(), ping{Seq: 1})
	require.NoError(t, err)
	require.Equal(t, pong{Seq: 2}, res)
}

func TestApp_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	require.Equal(t, es.CodeValidation, es.CodeOf(err))
}

func TestApp_WithOutbox(t *testing.T) {
	store := es.NewInMemoryStore()
	defer store.Close()

	obStore := outbox.NewInMemoryStore()
	pub := &recordingPublisher{}

	a, err := Run(Config{
		Store: store,
		Outbox: &OutboxConfig{
			Store:     obStore,
			Publisher: pub,
			Processor: outbox.ProcessorConfig{Interval: 10 * time.Millisecond},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, a.Processor())
	defer a.Stop()

	entries := outbox.FromEnvelopes([]es.Envelope{{
		ID: "e-1", Seq: 1, Version: 1,
		AggregateType: "ticket", AggregateID: "t-1", Type: "ticketOpened",
		OccurredAt: time.Now(), Data: []byte(`{}`),
	}}, "tickets")
	require.NoError(t, obStore.Enqueue(t.Context(), entries...))

	require.Eventually(t, func() bool {
		return pub.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestApp_Shutdown(t *testing.T) {
	a, err := Run(Config{Store: es.NewInMemoryStore()})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, a.Shutdown(ctx))

	select {
	case <-a.Done():
	default:
		t.Fatal("Done() should be closed after Shutdown")
	}
}

func TestApp_Stop(t *testing.T) {
	a, err := Run(Config{Store: es.NewInMemoryStore()})
	require.NoError(t, err)

	a.Stop()

	// Should be idempotent
	a.Stop()

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should be closed after Stop")
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []*outbox.Entry
}

func (p *recordingPublisher) Publish(_ context.Context, entry *outbox.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, entries []*outbox.Entry) error {
	for _, e := range entries {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
