package http

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/opzones/internal/adapters/postgres"
	"github.com/samirrijal/opzones/internal/adapters/valkey"
	"github.com/samirrijal/opzones/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers. The infrastructure
// handles (NATS, DB, Cache) are optional and only feed health checks and the
// WebSocket relay.
type Dependencies struct {
	Zones    *usecases.ZoneCache
	Matcher  *usecases.SpatialMatcher
	Shapes   *usecases.ShapeService
	Geocoder *usecases.GeocodingService
	NATS     *nats.Conn
	DB       *postgres.DB
	Cache    *valkey.Cache

	// Zero values fall back to 15s, 120 requests per minute per IP and
	// api/openapi.yaml.
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	OpenAPIPath        string
}

func (d *Dependencies) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return 15 * time.Second
}

func (d *Dependencies) rateLimit() int {
	if d.RateLimitPerMinute > 0 {
		return d.RateLimitPerMinute
	}
	return 120
}

func (d *Dependencies) openAPIPath() string {
	if d.OpenAPIPath != "" {
		return d.OpenAPIPath
	}
	return "api/openapi.yaml"
}
