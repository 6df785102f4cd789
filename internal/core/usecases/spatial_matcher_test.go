package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/usecases"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
)

type staticSnapshot struct{ snap *domain.Snapshot }

func (s staticSnapshot) Snapshot() *domain.Snapshot { return s.snap }

func zone(id string, g domain.Geometry) domain.ZoneFeature {
	return domain.ZoneFeature{GeoID: id, State: "Texas", County: "Harris", Original: g, Simplified: g, BBox: geospatial.ComputeBBox(g)}
}

func snapshotOf(features ...domain.ZoneFeature) staticSnapshot {
	return staticSnapshot{domain.NewSnapshot(features, 1, "hash", time.Now(), time.Time{})}
}

func TestSpatialMatcher_FallbackWhenIndexUnavailable(t *testing.T) {
	store := &mockStore{availableFn: func(ctx context.Context) (bool, error) { return false, nil }}
	m := usecases.NewSpatialMatcher(store, snapshotOf(zone("A", square(0, 0, 1))), time.Second)

	for i := 0; i < 3; i++ {
		got := m.CheckPoint(context.Background(), 0.5, 0.5)
		if got.Method != domain.MethodFallback {
			t.Fatalf("call %d: expected fallback, got %s", i, got.Method)
		}
		if !got.IsInZone || got.ZoneID != "A" {
			t.Errorf("call %d: expected match in A, got %+v", i, got)
		}
	}
	if store.probes.Load() != 1 {
		t.Errorf("expected availability to be probed once, got %d", store.probes.Load())
	}
	if store.pointQueries.Load() != 0 {
		t.Errorf("expected no index queries, got %d", store.pointQueries.Load())
	}
}

func TestSpatialMatcher_ProbeErrorIsMemoized(t *testing.T) {
	store := &mockStore{availableFn: func(ctx context.Context) (bool, error) {
		return false, errors.New("connection refused")
	}}
	m := usecases.NewSpatialMatcher(store, snapshotOf(), time.Second)

	if m.IndexAvailable(context.Background()) {
		t.Error("expected index to be unavailable")
	}
	m.CheckPoint(context.Background(), 1, 1)
	if store.probes.Load() != 1 {
		t.Errorf("expected 1 probe, got %d", store.probes.Load())
	}
}

func TestSpatialMatcher_UsesIndex(t *testing.T) {
	store := &mockStore{
		availableFn: func(ctx context.Context) (bool, error) { return true, nil },
		atPointFn: func(ctx context.Context, lat, lon float64) (string, bool, error) {
			if lat == 29.76 && lon == -95.37 {
				return "48201000100", true, nil
			}
			return "", false, nil
		},
	}
	m := usecases.NewSpatialMatcher(store, snapshotOf(), time.Second)

	got := m.CheckPoint(context.Background(), 29.76, -95.37)
	if got.Method != domain.MethodIndex || !got.IsInZone || got.ZoneID != "48201000100" {
		t.Errorf("unexpected match: %+v", got)
	}

	miss := m.CheckPoint(context.Background(), 40, -100)
	if miss.Method != domain.MethodIndex || miss.IsInZone || miss.ZoneID != "" {
		t.Errorf("unexpected miss result: %+v", miss)
	}
}

func TestSpatialMatcher_IndexErrorFallsBackForThatCall(t *testing.T) {
	fail := true
	store := &mockStore{
		availableFn: func(ctx context.Context) (bool, error) { return true, nil },
		atPointFn: func(ctx context.Context, lat, lon float64) (string, bool, error) {
			if fail {
				return "", false, errors.New("statement timeout")
			}
			return "A", true, nil
		},
	}
	m := usecases.NewSpatialMatcher(store, snapshotOf(zone("A", square(0, 0, 1))), time.Second)

	got := m.CheckPoint(context.Background(), 0.5, 0.5)
	if got.Method != domain.MethodFallback || got.ZoneID != "A" {
		t.Errorf("expected fallback match, got %+v", got)
	}

	fail = false
	got = m.CheckPoint(context.Background(), 0.5, 0.5)
	if got.Method != domain.MethodIndex {
		t.Errorf("expected index to be used again, got %s", got.Method)
	}
}

func TestSpatialMatcher_IndexTimeoutFallsBack(t *testing.T) {
	store := &mockStore{
		availableFn: func(ctx context.Context) (bool, error) { return true, nil },
		atPointFn: func(ctx context.Context, lat, lon float64) (string, bool, error) {
			<-ctx.Done()
			return "", false, ctx.Err()
		},
	}
	m := usecases.NewSpatialMatcher(store, snapshotOf(), 10*time.Millisecond)

	got := m.CheckPoint(context.Background(), 0.5, 0.5)
	if got.Method != domain.MethodFallback || got.IsInZone {
		t.Errorf("expected fallback miss, got %+v", got)
	}
}

func TestSpatialMatcher_FirstMatchInSnapshotOrder(t *testing.T) {
	m := usecases.NewSpatialMatcher(nil, snapshotOf(
		zone("B", square(0, 0, 2)),
		zone("A", square(0, 0, 1)),
	), time.Second)

	got := m.CheckPoint(context.Background(), 0.5, 0.5)
	if got.ZoneID != "B" {
		t.Errorf("expected first feature in snapshot order (B), got %q", got.ZoneID)
	}
}

func TestSpatialMatcher_HoleExcluded(t *testing.T) {
	donut := domain.Geometry{
		Type: domain.GeometryPolygon,
		Polygons: []domain.Polygon{{
			square(0, 0, 4).Polygons[0][0],
			square(1, 1, 2).Polygons[0][0],
		}},
	}
	m := usecases.NewSpatialMatcher(nil, snapshotOf(zone("D", donut)), time.Second)

	if got := m.CheckPoint(context.Background(), 2, 2); got.IsInZone {
		t.Errorf("point in hole should not match, got %+v", got)
	}
	if got := m.CheckPoint(context.Background(), 0.5, 0.5); !got.IsInZone {
		t.Errorf("point in ring should match, got %+v", got)
	}
}

func TestSpatialMatcher_ResetAvailability(t *testing.T) {
	available := false
	store := &mockStore{availableFn: func(ctx context.Context) (bool, error) { return available, nil }}
	m := usecases.NewSpatialMatcher(store, snapshotOf(), time.Second)

	if m.IndexAvailable(context.Background()) {
		t.Fatal("expected unavailable on first probe")
	}
	available = true
	if m.IndexAvailable(context.Background()) {
		t.Fatal("expected memoized unavailable before reset")
	}

	m.ResetAvailability()
	if !m.IndexAvailable(context.Background()) {
		t.Error("expected re-probe after reset to report available")
	}
	if store.probes.Load() != 2 {
		t.Errorf("expected 2 probes, got %d", store.probes.Load())
	}
}

func TestSpatialMatcher_NeverPanicsOnEmptySnapshot(t *testing.T) {
	m := usecases.NewSpatialMatcher(nil, usecases.NewZoneCache(&mockSource{}, usecases.ZoneCacheConfig{}), time.Second)
	for _, p := range [][2]float64{{-90, -180}, {90, 180}, {0, 0}} {
		got := m.CheckPoint(context.Background(), p[0], p[1])
		if got.Method != domain.MethodFallback || got.IsInZone {
			t.Errorf("unexpected result for %v: %+v", p, got)
		}
	}
}
