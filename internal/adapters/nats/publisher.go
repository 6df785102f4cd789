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

// Subjects carrying zone events.
const (
	SubjectDatasetUpdated    = "zones.dataset.updated"
	SubjectSnapshotRefreshed = "zones.snapshot.refreshed"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      "ZONE_DATASETS",
			Subjects:  []string{"zones.dataset.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Already exists; bring its config up to date.
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishDatasetUpdated persists the import announcement in JetStream so a
// handler that fails can be redelivered.
func (p *Publisher) PublishDatasetUpdated(ctx context.Context, event domain.DatasetUpdated) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectDatasetUpdated, data, nats.Context(ctx))
	return err
}

// PublishSnapshotRefreshed broadcasts on core NATS; only live listeners care.
func (p *Publisher) PublishSnapshotRefreshed(ctx context.Context, status domain.CacheStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return p.conn.Publish(SubjectSnapshotRefreshed, data)
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection that reconnects forever and logs
// connection state changes.
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("opzones"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
}
