package usecases_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// Two unit squares sharing the x=1 edge, and a third far away.
const zonesPayload = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"GEOID": "06037000100", "STATE_NAME": "California", "COUNTY_NAME": "Los Angeles"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"GEOID": "06037000200", "STATE_NAME": "California", "COUNTY_NAME": "Los Angeles"},
     "geometry": {"type": "Polygon", "coordinates": [[[1,0],[2,0],[2,1],[1,1],[1,0]]]}},
    {"type": "Feature", "properties": {"GEOID": "36061000300", "STATE_NAME": "New York", "COUNTY_NAME": "New York"},
     "geometry": {"type": "Polygon", "coordinates": [[[10,10],[11,10],[11,11],[10,11],[10,10]]]}}
  ]
}`

// --- Mock DatasetSource ---

type mockSource struct {
	mu      sync.Mutex
	payload []byte
	err     error
	gate    chan struct{} // when set, Fetch blocks until it is closed
	calls   atomic.Int32
}

func (m *mockSource) Fetch(ctx context.Context) ([]byte, error) {
	m.calls.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payload, m.err
}

func (m *mockSource) set(payload string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payload, m.err = []byte(payload), err
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu        sync.Mutex
	refreshed []domain.CacheStatus
}

func (m *mockPublisher) PublishSnapshotRefreshed(ctx context.Context, status domain.CacheStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshed = append(m.refreshed, status)
	return nil
}

func (m *mockPublisher) PublishDatasetUpdated(ctx context.Context, event domain.DatasetUpdated) error {
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refreshed)
}

// --- Mock ZoneGeometryStore ---

type mockStore struct {
	availableFn  func(ctx context.Context) (bool, error)
	atPointFn    func(ctx context.Context, lat, lon float64) (string, bool, error)
	inBoundsFn   func(ctx context.Context, b domain.Bounds, detail domain.GeometryDetail) ([]domain.ZoneShape, error)
	byIDsFn      func(ctx context.Context, ids []string) ([]domain.ZoneShape, error)
	probes       atomic.Int32
	pointQueries atomic.Int32
}

func (m *mockStore) SpatialIndexAvailable(ctx context.Context) (bool, error) {
	m.probes.Add(1)
	if m.availableFn != nil {
		return m.availableFn(ctx)
	}
	return false, nil
}

func (m *mockStore) FindZoneAtPoint(ctx context.Context, lat, lon float64) (string, bool, error) {
	m.pointQueries.Add(1)
	if m.atPointFn != nil {
		return m.atPointFn(ctx, lat, lon)
	}
	return "", false, nil
}

func (m *mockStore) FindInBounds(ctx context.Context, b domain.Bounds, detail domain.GeometryDetail) ([]domain.ZoneShape, error) {
	if m.inBoundsFn != nil {
		return m.inBoundsFn(ctx, b, detail)
	}
	return nil, nil
}

func (m *mockStore) FindByIDs(ctx context.Context, ids []string) ([]domain.ZoneShape, error) {
	if m.byIDsFn != nil {
		return m.byIDsFn(ctx, ids)
	}
	return nil, nil
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

func square(minLon, minLat, size float64) domain.Geometry {
	return domain.Geometry{
		Type: domain.GeometryPolygon,
		Polygons: []domain.Polygon{{{
			{Lon: minLon, Lat: minLat},
			{Lon: minLon + size, Lat: minLat},
			{Lon: minLon + size, Lat: minLat + size},
			{Lon: minLon, Lat: minLat + size},
			{Lon: minLon, Lat: minLat},
		}}},
	}
}
