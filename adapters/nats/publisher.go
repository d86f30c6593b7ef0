package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/cqrs-go/core/outbox"
)

const defaultSubjectPrefix = "cqrs.events"

type PublisherConfig struct {
	Connect Connector
	// Stream is the JetStream stream name, created on demand.
	Stream string
	// SubjectPrefix prefixes the routing key of each entry.
	SubjectPrefix string
}

// Publisher delivers outbox entries to a JetStream stream. The envelope id
// doubles as the JetStream message id, so redeliveries after a crash between
// publish and mark-published are deduplicated server side.
type Publisher struct {
	js     jetstream.JetStream
	prefix string
	close  closeFunc
}

func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	if cfg.Stream == "" {
		cfg.Stream = "CQRS_EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaultSubjectPrefix
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeCon()
		return nil, err
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		closeCon()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	return &Publisher{js: js, prefix: cfg.SubjectPrefix, close: closeCon}, nil
}

func (p *Publisher) subject(entry *outbox.Entry) string {
	key := entry.RoutingKey
	if key == "" {
		key = entry.Event.AggregateType + "." + entry.Event.Type
	}
	key = strings.ReplaceAll(key, " ", "_")
	return p.prefix + "." + key
}

func (p *Publisher) Publish(ctx context.Context, entry *outbox.Entry) error {
	data, err := json.Marshal(entry.Event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", entry.Event.ID, err)
	}

	msg := &natsgo.Msg{
		Subject: p.subject(entry),
		Data:    data,
		Header:  natsgo.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", entry.Event.ID)

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *Publisher) PublishBatch(ctx context.Context, entries []*outbox.Entry) error {
	for _, e := range entries {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

var _ outbox.Publisher = (*Publisher)(nil)
