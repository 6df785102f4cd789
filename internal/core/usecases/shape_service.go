package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/contiguity"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

// Zoom limits applied to viewport queries.
const (
	MinZoom = 1
	MaxZoom = 20
)

// Where a shape result was read from.
const (
	SourceDatabase      = "database"
	SourceMemory        = "memory"
	SourceResponseCache = "response_cache"
)

// ShapeServiceConfig tunes shape queries.
type ShapeServiceConfig struct {
	// DetailZoomThreshold is the first zoom level served original geometry.
	DetailZoomThreshold int
	QueryTimeout        time.Duration
	CacheTTL            time.Duration
}

// ViewportShapes is the result of a viewport query.
type ViewportShapes struct {
	Collection domain.FeatureCollection
	ShapeCount int
	Zoom       int
	Detail     domain.GeometryDetail
	Source     string
	QueryTime  time.Duration
}

// BatchShapes is the result of an explicit ID lookup.
type BatchShapes struct {
	Collection     domain.FeatureCollection
	Stats          domain.ContiguityStats
	Groups         []contiguity.Group
	RequestedZones int
	FoundZones     int
	Source         string
}

// ShapeService serves renderable zone polygons for map clients.
type ShapeService struct {
	store ports.ZoneGeometryStore
	zones SnapshotProvider
	cache ports.CacheService
	cfg   ShapeServiceConfig
}

// NewShapeService creates a ShapeService. store and cache may be nil; without
// a store every query is answered from the in-memory snapshot.
func NewShapeService(store ports.ZoneGeometryStore, zones SnapshotProvider, cache ports.CacheService, cfg ShapeServiceConfig) *ShapeService {
	if cfg.DetailZoomThreshold <= 0 {
		cfg.DetailZoomThreshold = 12
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &ShapeService{store: store, zones: zones, cache: cache, cfg: cfg}
}

// ClampZoom limits zoom to [MinZoom, MaxZoom].
func ClampZoom(zoom int) int {
	return min(max(zoom, MinZoom), MaxZoom)
}

// DetailForZoom picks the geometry variant for a clamped zoom level. Higher
// zoom never selects less detail.
func (s *ShapeService) DetailForZoom(zoom int) domain.GeometryDetail {
	if zoom < s.cfg.DetailZoomThreshold {
		return domain.DetailSimplified
	}
	return domain.DetailOriginal
}

// ShapesInBounds returns zones intersecting the viewport. An empty result is
// not an error.
func (s *ShapeService) ShapesInBounds(ctx context.Context, b domain.Bounds, zoom int) (*ViewportShapes, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "ShapeService.ShapesInBounds")
	defer span.End()

	start := time.Now()
	zoom = ClampZoom(zoom)
	detail := s.DetailForZoom(zoom)
	version := s.zones.Snapshot().Version
	key := viewportKey(b, zoom, version)

	if fc, ok := s.cachedViewport(ctx, key); ok {
		return s.viewportResult(fc, zoom, detail, SourceResponseCache, start), nil
	}

	var (
		features []domain.Feature
		source   = SourceMemory
	)
	if s.store != nil {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		shapes, err := s.store.FindInBounds(qctx, b, detail)
		cancel()
		if err == nil {
			features, source = shapesToFeatures(shapes), SourceDatabase
		} else {
			span.RecordError(err)
			slog.Warn("viewport query failed, serving from snapshot", "error", err)
		}
	}
	if source == SourceMemory {
		features = s.snapshotInBounds(b, detail)
	}

	fc := domain.NewFeatureCollection(features)
	s.storeViewport(ctx, key, fc)
	return s.viewportResult(fc, zoom, detail, source, start), nil
}

// ShapesByZoneIDs returns the requested zones colored by contiguity. Missing
// IDs are omitted; the caller compares RequestedZones with FoundZones.
func (s *ShapeService) ShapesByZoneIDs(ctx context.Context, ids []string) (*BatchShapes, error) {
	const op = "shapes.batch"
	if len(ids) == 0 {
		return nil, domain.Validationf(op, "zone_ids must contain at least 1 id")
	}
	if len(ids) > contiguity.MaxFeatures {
		return nil, domain.Validationf(op, "zone_ids must contain at most %d ids, got %d", contiguity.MaxFeatures, len(ids))
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for i, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, domain.Validationf(op, "zone_ids[%d] is empty", i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	ctx, span := tracer.Start(ctx, "ShapeService.ShapesByZoneIDs")
	defer span.End()
	start := time.Now()

	var (
		shapes []domain.ZoneShape
		source = SourceMemory
	)
	if s.store != nil {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		found, err := s.store.FindByIDs(qctx, unique)
		cancel()
		if err == nil {
			shapes, source = found, SourceDatabase
		} else {
			span.RecordError(err)
			slog.Warn("batch shape query failed, serving from snapshot", "error", err)
		}
	}
	if source == SourceMemory {
		shapes = s.snapshotByIDs(unique)
	}

	// Stable colors for identical requests.
	sort.Slice(shapes, func(i, j int) bool { return shapes[i].GeoID < shapes[j].GeoID })

	colored, groups := contiguity.Analyze(shapesToFeatures(shapes))
	metrics.ShapeQueries.WithLabelValues("batch", source).Observe(time.Since(start).Seconds())

	return &BatchShapes{
		Collection:     domain.NewFeatureCollection(colored),
		Stats:          contiguity.Stats(colored),
		Groups:         groups,
		RequestedZones: len(ids),
		FoundZones:     len(colored),
		Source:         source,
	}, nil
}

// snapshotInBounds matches the store's envelope query: a bbox pre-filter,
// then an exact test against the original geometry, ordered by geoid.
func (s *ShapeService) snapshotInBounds(b domain.Bounds, detail domain.GeometryDetail) []domain.Feature {
	var hits []*domain.ZoneFeature
	for _, f := range s.zones.Snapshot().InBounds(b) {
		if geospatial.GeometryIntersectsBounds(f.Original, b) {
			hits = append(hits, f)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].GeoID < hits[j].GeoID })

	out := make([]domain.Feature, 0, len(hits))
	for _, f := range hits {
		out = append(out, toShape(f, detail).ToFeature())
	}
	return out
}

func (s *ShapeService) snapshotByIDs(ids []string) []domain.ZoneShape {
	snap := s.zones.Snapshot()
	out := make([]domain.ZoneShape, 0, len(ids))
	for _, id := range ids {
		if f, ok := snap.Lookup(id); ok {
			out = append(out, toShape(f, domain.DetailOriginal))
		}
	}
	return out
}

func (s *ShapeService) cachedViewport(ctx context.Context, key string) (domain.FeatureCollection, bool) {
	var fc domain.FeatureCollection
	if s.cache == nil {
		return fc, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil || data == nil {
		metrics.CacheMisses.WithLabelValues("shapes_viewport").Inc()
		return fc, false
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		slog.Warn("discarding unreadable cached viewport", "key", key, "error", err)
		return fc, false
	}
	metrics.CacheHits.WithLabelValues("shapes_viewport").Inc()
	return fc, true
}

func (s *ShapeService) storeViewport(ctx context.Context, key string, fc domain.FeatureCollection) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(fc)
	if err != nil {
		slog.Warn("encode viewport for cache", "error", err)
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		slog.Warn("cache viewport", "key", key, "error", err)
	}
}

func (s *ShapeService) viewportResult(fc domain.FeatureCollection, zoom int, detail domain.GeometryDetail, source string, start time.Time) *ViewportShapes {
	took := time.Since(start)
	metrics.ShapeQueries.WithLabelValues("viewport", source).Observe(took.Seconds())
	return &ViewportShapes{
		Collection: fc,
		ShapeCount: len(fc.Features),
		Zoom:       zoom,
		Detail:     detail,
		Source:     source,
		QueryTime:  took,
	}
}

// viewportKey includes the snapshot version so a refresh invalidates entries.
func viewportKey(b domain.Bounds, zoom int, version uint64) string {
	return fmt.Sprintf("shapes:v%d:z%d:%.6f:%.6f:%.6f:%.6f", version, zoom, b.North, b.South, b.East, b.West)
}

func toShape(f *domain.ZoneFeature, detail domain.GeometryDetail) domain.ZoneShape {
	return domain.ZoneShape{GeoID: f.GeoID, State: f.State, County: f.County, Geometry: f.Geometry(detail)}
}

func shapesToFeatures(shapes []domain.ZoneShape) []domain.Feature {
	out := make([]domain.Feature, len(shapes))
	for i, z := range shapes {
		out[i] = z.ToFeature()
	}
	return out
}
