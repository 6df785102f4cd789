package ports

import (
	"context"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// DatasetSource fetches the bulk zone dataset.
type DatasetSource interface {
	// Fetch returns the raw payload. The caller hashes and parses it.
	Fetch(ctx context.Context) ([]byte, error)
}

// Geocoder resolves free-form addresses. Implementations return a
// domain.KindNotFound error when the upstream confirms no match and a
// domain.KindRateLimited error on upstream backpressure.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error)
}

// EventPublisher publishes zone events to a message broker.
type EventPublisher interface {
	PublishSnapshotRefreshed(ctx context.Context, status domain.CacheStatus) error
	PublishDatasetUpdated(ctx context.Context, event domain.DatasetUpdated) error
}

// EventSubscriber subscribes to zone events from a message broker.
type EventSubscriber interface {
	SubscribeDatasetUpdated(ctx context.Context, handler func(ctx context.Context, event domain.DatasetUpdated) error) error
}

// CacheService stores encoded responses. Get returns nil, nil on a miss.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
