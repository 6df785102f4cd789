package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/opzones/internal/core/domain"
)

const (
	datasetAckWait    = 2 * time.Minute
	datasetMaxDeliver = 3
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeDatasetUpdated delivers import announcements published from now on
// to handler. Every instance gets its own ephemeral consumer so all replicas
// refresh. A handler error is redelivered up to three times in total; each
// attempt runs under the consumer's ack deadline.
func (s *Subscriber) SubscribeDatasetUpdated(ctx context.Context, handler func(ctx context.Context, event domain.DatasetUpdated) error) error {
	sub, err := s.js.Subscribe(SubjectDatasetUpdated, func(msg *nats.Msg) {
		var event domain.DatasetUpdated
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("dropping malformed dataset event", "error", err)
			_ = msg.Term()
			return
		}

		hctx, cancel := context.WithTimeout(ctx, datasetAckWait)
		defer cancel()
		if err := handler(hctx, event); err != nil {
			attempt := uint64(1)
			if meta, mErr := msg.Metadata(); mErr == nil {
				attempt = meta.NumDelivered
			}
			slog.Warn("dataset event handler failed",
				"import_id", event.ImportID, "attempt", attempt, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.AckWait(datasetAckWait),
		nats.MaxDeliver(datasetMaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectDatasetUpdated, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
