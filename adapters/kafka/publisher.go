// Package kafka publishes outbox entries to a Kafka topic. Messages are
// keyed by aggregate id so events of one aggregate land on one partition in
// order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/codewandler/cqrs-go/core/outbox"
)

type PublisherConfig struct {
	Brokers []string
	Topic   string
	// RequiredAcks defaults to requiring all in-sync replicas.
	RequiredAcks kafka.RequiredAcks
}

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	acks := cfg.RequiredAcks
	if acks == 0 {
		acks = kafka.RequireAll
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: acks,
		},
	}
}

func toMessage(entry *outbox.Entry) (kafka.Message, error) {
	data, err := json.Marshal(entry.Event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %s: %w", entry.Event.ID, err)
	}

	key := entry.RoutingKey
	if key == "" {
		key = entry.Event.AggregateID
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(entry.Event.ID)},
			{Key: "event_type", Value: []byte(entry.Event.Type)},
			{Key: "aggregate_type", Value: []byte(entry.Event.AggregateType)},
		},
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, entry *outbox.Entry) error {
	return p.PublishBatch(ctx, []*outbox.Entry{entry})
}

func (p *Publisher) PublishBatch(ctx context.Context, entries []*outbox.Entry) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		msg, err := toMessage(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ outbox.Publisher = (*Publisher)(nil)
