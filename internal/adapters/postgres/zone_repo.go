package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// ZoneRepo implements ports.ZoneGeometryStore and ports.ZoneWriter on PostGIS.
type ZoneRepo struct {
	db *DB
}

// NewZoneRepo creates a new ZoneRepo.
func NewZoneRepo(db *DB) *ZoneRepo {
	return &ZoneRepo{db: db}
}

// SpatialIndexAvailable reports whether PostGIS and the point lookup
// function are installed.
func (r *ZoneRepo) SpatialIndexAvailable(ctx context.Context) (bool, error) {
	var ok bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'postgis')
		   AND EXISTS (SELECT 1 FROM pg_proc WHERE proname = 'check_opportunity_zone')
	`).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("probe spatial index: %w", err)
	}
	return ok, nil
}

// FindZoneAtPoint calls check_opportunity_zone, which returns the first
// containing zone's geoid or NULL.
func (r *ZoneRepo) FindZoneAtPoint(ctx context.Context, lat, lon float64) (string, bool, error) {
	var geoid *string
	if err := r.db.Pool.QueryRow(ctx, `SELECT check_opportunity_zone($1, $2)`, lat, lon).Scan(&geoid); err != nil {
		return "", false, fmt.Errorf("check_opportunity_zone: %w", err)
	}
	if geoid == nil || *geoid == "" {
		return "", false, nil
	}
	return *geoid, true, nil
}

// FindInBounds returns zones intersecting the viewport envelope.
func (r *ZoneRepo) FindInBounds(ctx context.Context, b domain.Bounds, detail domain.GeometryDetail) ([]domain.ZoneShape, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT geoid, state, county,
		       ST_AsGeoJSON(CASE WHEN $5 THEN COALESCE(simplified_geom, geom) ELSE geom END)
		FROM opportunity_zones
		WHERE geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		  AND ST_Intersects(geom, ST_MakeEnvelope($1, $2, $3, $4, 4326))
		ORDER BY geoid
	`, b.West, b.South, b.East, b.North, detail == domain.DetailSimplified)
	if err != nil {
		return nil, fmt.Errorf("query zones in bounds: %w", err)
	}
	return scanShapes(rows)
}

// FindByIDs returns the zones among ids that exist.
func (r *ZoneRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.ZoneShape, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT geoid, state, county, ST_AsGeoJSON(geom)
		FROM opportunity_zones
		WHERE geoid = ANY($1)
		ORDER BY geoid
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query zones by id: %w", err)
	}
	return scanShapes(rows)
}

func scanShapes(rows pgx.Rows) ([]domain.ZoneShape, error) {
	defer rows.Close()

	var shapes []domain.ZoneShape
	for rows.Next() {
		var (
			z   domain.ZoneShape
			raw []byte
		)
		if err := rows.Scan(&z.GeoID, &z.State, &z.County, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &z.Geometry); err != nil {
			return nil, fmt.Errorf("decode geometry for %s: %w", z.GeoID, err)
		}
		shapes = append(shapes, z)
	}
	return shapes, rows.Err()
}

// ReplaceAll swaps the stored dataset for features in one transaction.
func (r *ZoneRepo) ReplaceAll(ctx context.Context, features []domain.ZoneFeature) (int, error) {
	if len(features) == 0 {
		return 0, errors.New("refusing to replace zones with an empty dataset")
	}

	batch := &pgx.Batch{}
	for i := range features {
		f := &features[i]
		original, err := json.Marshal(f.Original)
		if err != nil {
			return 0, fmt.Errorf("encode geometry for %s: %w", f.GeoID, err)
		}
		var simplified []byte
		if !f.Simplified.IsEmpty() {
			if simplified, err = json.Marshal(f.Simplified); err != nil {
				return 0, fmt.Errorf("encode simplified geometry for %s: %w", f.GeoID, err)
			}
		}
		batch.Queue(`
			INSERT INTO opportunity_zones (geoid, state, county, geom, simplified_geom)
			VALUES ($1, $2, $3,
			        ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)),
			        CASE WHEN $5::text IS NULL THEN NULL
			             ELSE ST_Multi(ST_SetSRID(ST_GeomFromGeoJSON($5::text), 4326)) END)
		`, f.GeoID, f.State, f.County, string(original), nullableText(simplified))
	}

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM opportunity_zones`); err != nil {
			return fmt.Errorf("clear zones: %w", err)
		}
		br := tx.SendBatch(ctx, batch)
		for range features {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("batch exec: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("replace zones: %w", err)
	}
	return len(features), nil
}

func nullableText(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}
