package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// GeocodeCacheRepo implements ports.GeocodeCacheRepository with pgx.
type GeocodeCacheRepo struct {
	db *DB
}

// NewGeocodeCacheRepo creates a new GeocodeCacheRepo.
func NewGeocodeCacheRepo(db *DB) *GeocodeCacheRepo {
	return &GeocodeCacheRepo{db: db}
}

// Get returns the entry for key, or nil when none is stored. Expired rows are
// returned as-is; the caller decides whether they are still usable.
func (r *GeocodeCacheRepo) Get(ctx context.Context, key string) (*domain.GeocodeCacheEntry, error) {
	var e domain.GeocodeCacheEntry
	err := r.db.Pool.QueryRow(ctx, `
		SELECT normalized_address, COALESCE(latitude, 0), COALESCE(longitude, 0),
		       COALESCE(display_name, ''), not_found, created_at, expires_at
		FROM geocode_cache WHERE normalized_address = $1
	`, key).Scan(
		&e.NormalizedAddress, &e.Latitude, &e.Longitude,
		&e.DisplayName, &e.NotFound, &e.CreatedAt, &e.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get geocode cache: %w", err)
	}
	return &e, nil
}

// Put upserts the entry; the last writer wins.
func (r *GeocodeCacheRepo) Put(ctx context.Context, e *domain.GeocodeCacheEntry) error {
	var lat, lon *float64
	var name *string
	if !e.NotFound {
		lat, lon, name = &e.Latitude, &e.Longitude, &e.DisplayName
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO geocode_cache (normalized_address, latitude, longitude, display_name, not_found, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (normalized_address) DO UPDATE
		SET latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
		    display_name = EXCLUDED.display_name, not_found = EXCLUDED.not_found,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, e.NormalizedAddress, lat, lon, name, e.NotFound, e.CreatedAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put geocode cache: %w", err)
	}
	return nil
}

// Stats counts all rows and those expired at now.
func (r *GeocodeCacheRepo) Stats(ctx context.Context, now time.Time) (domain.GeocodeCacheStats, error) {
	var st domain.GeocodeCacheStats
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at <= $1)
		FROM geocode_cache
	`, now).Scan(&st.TotalCached, &st.ExpiredEntries)
	if err != nil {
		return st, fmt.Errorf("geocode cache stats: %w", err)
	}
	return st, nil
}

// DeleteExpired removes rows expired at now and returns how many were removed.
func (r *GeocodeCacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM geocode_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired geocode cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
