package nats

import (
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/cqrs-go/core/es"
	"github.com/codewandler/cqrs-go/core/outbox"
)

func testEnvelope(seq uint64, version es.Version) es.Envelope {
	return es.Envelope{
		ID:            gonanoid.Must(),
		Seq:           seq,
		Version:       version,
		AggregateType: "order",
		AggregateID:   "order-1",
		Type:          "OrderPlaced",
		OccurredAt:    time.Now(),
		Data:          []byte(`{"sku":"keyboard"}`),
	}
}

func TestPublisher(t *testing.T) {
	connectNats := ReuseConnection(NewTestContainer(t))
	ctx := t.Context()

	pub, err := NewPublisher(ctx, PublisherConfig{
		Connect:       connectNats,
		Stream:        "TEST_EVENTS",
		SubjectPrefix: "test.events",
	})
	require.NoError(t, err)
	defer pub.Close()

	entries := outbox.FromEnvelopes([]es.Envelope{
		testEnvelope(1, 1),
		testEnvelope(2, 2),
	}, "orders")
	require.NoError(t, pub.PublishBatch(ctx, entries))

	// redelivery of the same envelope is deduplicated by message id
	require.NoError(t, pub.Publish(ctx, entries[0]))

	nc, closeCon, err := connectNats()
	require.NoError(t, err)
	defer closeCon()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	stream, err := js.Stream(ctx, "TEST_EVENTS")
	require.NoError(t, err)

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.State.Msgs)
}

func TestPublisher_Subjects(t *testing.T) {
	p := &Publisher{prefix: "cqrs.events"}

	withKey := outbox.FromEnvelope(testEnvelope(1, 1), "orders")
	require.Equal(t, "cqrs.events.orders", p.subject(withKey))

	noKey := outbox.FromEnvelope(testEnvelope(1, 1), "")
	require.Equal(t, "cqrs.events.order.OrderPlaced", p.subject(noKey))
}
