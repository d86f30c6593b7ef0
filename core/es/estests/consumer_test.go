package estests

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
)

// collector records every event it sees.
type collector struct {
	mu   sync.Mutex
	seen []uint64
	live []bool
}

func (c *collector) Handle(ctx es.MsgCtx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ctx.Seq())
	c.live = append(c.live, ctx.Live())
	return nil
}

func (c *collector) snapshot() ([]uint64, []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seen...), append([]bool(nil), c.live...)
}

func appendN(t *testing.T, store es.EventStore, aggID string, from es.Version, n es.Version) {
	t.Helper()
	_, err := store.Append(t.Context(), "test_agg", aggID, from, envelopes("test_agg", aggID, from, n, "Incremented"))
	require.NoError(t, err)
}

func TestConsumer_CatchUpThenLive(t *testing.T) {
	te := newTestEnv(t)

	// history written before the consumer exists
	appendN(t, te.store, "a-1", 0, 3)

	col := &collector{}
	c := es.NewConsumer(te.store, te.registry, col,
		es.WithConsumerName("catchup"),
		es.WithSubscribeOpts(es.WithPollInterval(10*time.Millisecond)),
	)
	require.NoError(t, c.Start(t.Context()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		seen, _ := col.snapshot()
		return len(seen) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// new events arrive in live mode
	appendN(t, te.store, "a-1", 3, 2)

	require.Eventually(t, func() bool {
		seen, _ := col.snapshot()
		return len(seen) == 5
	}, 2*time.Second, 10*time.Millisecond)

	seen, live := col.snapshot()
	for i, seq := range seen {
		require.Equal(t, uint64(i+1), seq, "events must arrive in sequence order")
	}
	require.True(t, live[len(live)-1], "tail events must be marked live")
}

func TestConsumer_CheckpointResume(t *testing.T) {
	te := newTestEnv(t)
	cps := es.NewInMemCpStore()

	appendN(t, te.store, "a-1", 0, 3)

	run := func(col *collector) {
		c := es.NewConsumer(te.store, te.registry, col,
			es.WithConsumerName("resume"),
			es.WithMiddlewares(es.NewCheckpointMiddleware(cps)),
			es.WithSubscribeOpts(es.WithPollInterval(10*time.Millisecond)),
		)
		require.NoError(t, c.Start(t.Context()))
		defer c.Stop()

		require.Eventually(t, func() bool {
			seen, err := cps.Get()
			maxSeq, _ := te.store.MaxSeq(t.Context())
			return err == nil && seen == maxSeq
		}, 2*time.Second, 10*time.Millisecond)
	}

	first := &collector{}
	run(first)
	seen, _ := first.snapshot()
	require.Equal(t, []uint64{1, 2, 3}, seen)

	// more events while no consumer is running
	appendN(t, te.store, "a-1", 3, 2)

	// the restarted consumer resumes at the checkpoint, no double delivery
	second := &collector{}
	run(second)
	seen, _ = second.snapshot()
	require.Equal(t, []uint64{4, 5}, seen)
}

func TestConsumer_DecodesRegisteredEvents(t *testing.T) {
	te := newTestEnv(t)

	appendN(t, te.store, "a-1", 0, 1)

	got := make(chan any, 1)
	c := es.NewConsumer(te.store, te.registry, es.Handle(func(ctx es.MsgCtx) error {
		got <- ctx.Event()
		return nil
	}),
		es.WithSubscribeOpts(es.WithPollInterval(10*time.Millisecond)),
	)
	require.NoError(t, c.Start(t.Context()))
	defer c.Stop()

	select {
	case evt := <-got:
		inc, ok := evt.(*Incremented)
		require.True(t, ok)
		require.Equal(t, 1, inc.By)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestConsumer_QueryFilter(t *testing.T) {
	te := newTestEnv(t)

	appendN(t, te.store, "a-1", 0, 2)
	appendN(t, te.store, "a-2", 0, 2)

	col := &collector{}
	c := es.NewConsumer(te.store, te.registry, col,
		es.WithSubscribeOpts(
			es.WithPollInterval(10*time.Millisecond),
			es.WithQuery(es.Query{AggregateID: "a-2"}),
		),
	)
	require.NoError(t, c.Start(t.Context()))
	defer c.Stop()

	require.Eventually(t, func() bool {
		seen, _ := col.snapshot()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	seen, _ := col.snapshot()
	require.Equal(t, []uint64{3, 4}, seen)
}
