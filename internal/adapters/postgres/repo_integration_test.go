//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/opzones/internal/adapters/postgres"
	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/pkg/config"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
)

const zonesPayload = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"GEOID": "06037000100", "STATE_NAME": "California", "COUNTY_NAME": "Los Angeles"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"GEOID": "06037000200", "STATE_NAME": "California", "COUNTY_NAME": "Los Angeles"},
     "geometry": {"type": "Polygon", "coordinates": [[[1,0],[2,0],[2,1],[1,1],[1,0]]]}}
  ]
}`

func setupTestDB(t *testing.T) *postgres.DB {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	cfg, err := config.Load("opzones-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN(), 4)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

func TestZoneRepo_ReplaceAllAndLookup(t *testing.T) {
	db := setupTestDB(t)
	repo := postgres.NewZoneRepo(db)
	ctx := context.Background()

	features, _, err := geospatial.DecodeZones([]byte(zonesPayload), 0.0001)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	n, err := repo.ReplaceAll(ctx, features)
	if err != nil {
		t.Fatalf("replace all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}

	ok, err := repo.SpatialIndexAvailable(ctx)
	if err != nil || !ok {
		t.Fatalf("expected spatial index available, got %v (%v)", ok, err)
	}

	geoid, found, err := repo.FindZoneAtPoint(ctx, 0.5, 1.5)
	if err != nil {
		t.Fatalf("find zone at point: %v", err)
	}
	if !found || geoid != "06037000200" {
		t.Errorf("expected 06037000200, got %q (found=%v)", geoid, found)
	}

	_, found, err = repo.FindZoneAtPoint(ctx, 45, 45)
	if err != nil {
		t.Fatalf("find zone outside: %v", err)
	}
	if found {
		t.Error("expected no zone far from the fixture")
	}

	shapes, err := repo.FindInBounds(ctx, domain.Bounds{North: 0.9, South: 0.1, East: 0.9, West: 0.1}, domain.DetailOriginal)
	if err != nil {
		t.Fatalf("find in bounds: %v", err)
	}
	if len(shapes) != 1 || shapes[0].GeoID != "06037000100" {
		t.Errorf("unexpected viewport shapes: %+v", shapes)
	}

	shapes, err = repo.FindByIDs(ctx, []string{"06037000100", "99999999999"})
	if err != nil {
		t.Fatalf("find by ids: %v", err)
	}
	if len(shapes) != 1 || shapes[0].State != "California" {
		t.Errorf("unexpected batch shapes: %+v", shapes)
	}
}

func TestGeocodeCacheRepo_PutGetPrune(t *testing.T) {
	db := setupTestDB(t)
	repo := postgres.NewGeocodeCacheRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	live := "test " + uuid.NewString()
	stale := "test " + uuid.NewString()

	if err := repo.Put(ctx, &domain.GeocodeCacheEntry{
		NormalizedAddress: live,
		Latitude:          40.7,
		Longitude:         -74,
		DisplayName:       "New York",
		CreatedAt:         now,
		ExpiresAt:         now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("put live: %v", err)
	}
	if err := repo.Put(ctx, &domain.GeocodeCacheEntry{
		NormalizedAddress: stale,
		NotFound:          true,
		CreatedAt:         now.Add(-2 * time.Hour),
		ExpiresAt:         now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	got, err := repo.Get(ctx, live)
	if err != nil || got == nil {
		t.Fatalf("get live: %v %v", got, err)
	}
	if got.DisplayName != "New York" || got.NotFound || !got.Valid(now) {
		t.Errorf("unexpected entry: %+v", got)
	}

	missing, err := repo.Get(ctx, "test "+uuid.NewString())
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown key, got %+v", missing)
	}

	st, err := repo.Stats(ctx, now)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalCached < 2 || st.ExpiredEntries < 1 {
		t.Errorf("unexpected stats: %+v", st)
	}

	deleted, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted < 1 {
		t.Errorf("expected at least one pruned row, got %d", deleted)
	}
	if e, _ := repo.Get(ctx, stale); e != nil {
		t.Errorf("stale entry survived prune: %+v", e)
	}
	if e, _ := repo.Get(ctx, live); e == nil {
		t.Error("live entry was pruned")
	}
}
