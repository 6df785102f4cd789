package ports

import (
	"context"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// ZoneGeometryStore is the database-side view of zone geometry.
type ZoneGeometryStore interface {
	// SpatialIndexAvailable reports whether the spatial extension and the
	// point lookup function are installed.
	SpatialIndexAvailable(ctx context.Context) (bool, error)
	// FindZoneAtPoint runs the fast-path point lookup. found is false when the
	// point is outside every zone.
	FindZoneAtPoint(ctx context.Context, lat, lon float64) (geoid string, found bool, err error)
	// FindInBounds returns zones whose geometry intersects the viewport.
	FindInBounds(ctx context.Context, b domain.Bounds, detail domain.GeometryDetail) ([]domain.ZoneShape, error)
	// FindByIDs returns the zones that exist among ids; missing ids are omitted.
	FindByIDs(ctx context.Context, ids []string) ([]domain.ZoneShape, error)
}

// ZoneWriter loads a full dataset into the geometry store.
type ZoneWriter interface {
	ReplaceAll(ctx context.Context, features []domain.ZoneFeature) (int, error)
}

// GeocodeCacheRepository persists geocoder answers.
type GeocodeCacheRepository interface {
	Get(ctx context.Context, normalizedAddress string) (*domain.GeocodeCacheEntry, error)
	// Put writes the entry, replacing any existing row for the key.
	Put(ctx context.Context, entry *domain.GeocodeCacheEntry) error
	Stats(ctx context.Context, now time.Time) (domain.GeocodeCacheStats, error)
}

// GeocodeCachePruner deletes expired geocode cache rows.
type GeocodeCachePruner interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
