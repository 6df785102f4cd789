package usecases

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

// SnapshotProvider exposes the current zone snapshot.
type SnapshotProvider interface {
	Snapshot() *domain.Snapshot
}

const (
	availabilityUnknown int32 = iota
	availabilityYes
	availabilityNo
)

// SpatialMatcher answers point-in-zone checks, preferring the database
// spatial index and falling back to ray casting over the in-memory snapshot.
type SpatialMatcher struct {
	store        ports.ZoneGeometryStore
	zones        SnapshotProvider
	queryTimeout time.Duration

	// availability is probed once and kept until ResetAvailability.
	availability atomic.Int32
}

// NewSpatialMatcher creates a SpatialMatcher. store may be nil, in which case
// every check uses the fallback path.
func NewSpatialMatcher(store ports.ZoneGeometryStore, zones SnapshotProvider, queryTimeout time.Duration) *SpatialMatcher {
	if queryTimeout <= 0 {
		queryTimeout = 2 * time.Second
	}
	return &SpatialMatcher{store: store, zones: zones, queryTimeout: queryTimeout}
}

// IndexAvailable reports whether the spatial index can be used. The first
// answer, including a failed probe, is memoized.
func (m *SpatialMatcher) IndexAvailable(ctx context.Context) bool {
	switch m.availability.Load() {
	case availabilityYes:
		return true
	case availabilityNo:
		return false
	}
	if m.store == nil {
		m.availability.Store(availabilityNo)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	ok, err := m.store.SpatialIndexAvailable(ctx)
	if err != nil {
		slog.Warn("spatial index probe failed, using fallback matching", "error", err)
		ok = false
	}
	state := availabilityNo
	if ok {
		state = availabilityYes
	}
	// Concurrent first probes may race here; both outcomes are valid.
	m.availability.Store(state)
	slog.Info("spatial index availability determined", "available", ok)
	return ok
}

// ResetAvailability forgets the memoized probe so the next check re-probes.
func (m *SpatialMatcher) ResetAvailability() {
	m.availability.Store(availabilityUnknown)
	slog.Info("spatial index availability reset")
}

// CheckPoint reports whether the point lies inside an opportunity zone. It
// never fails: index errors degrade to the fallback path for this call.
func (m *SpatialMatcher) CheckPoint(ctx context.Context, lat, lon float64) domain.PointMatch {
	ctx, span := tracer.Start(ctx, "SpatialMatcher.CheckPoint")
	defer span.End()

	if m.IndexAvailable(ctx) {
		match, err := m.checkIndex(ctx, lat, lon)
		if err == nil {
			metrics.PointChecks.WithLabelValues(string(domain.MethodIndex)).Inc()
			span.SetAttributes(attribute.String("zones.method", string(match.Method)))
			return match
		}
		metrics.IndexFailures.Inc()
		span.RecordError(err)
		slog.Warn("spatial index query failed, falling back", "error", err, "lat", lat, "lon", lon)
	}

	match := m.checkFallback(lat, lon)
	metrics.PointChecks.WithLabelValues(string(domain.MethodFallback)).Inc()
	span.SetAttributes(attribute.String("zones.method", string(match.Method)))
	return match
}

func (m *SpatialMatcher) checkIndex(ctx context.Context, lat, lon float64) (domain.PointMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	geoid, found, err := m.store.FindZoneAtPoint(ctx, lat, lon)
	if err != nil {
		return domain.PointMatch{}, err
	}
	if !found {
		return domain.PointMatch{Method: domain.MethodIndex}, nil
	}
	return domain.PointMatch{IsInZone: true, ZoneID: geoid, Method: domain.MethodIndex}, nil
}

// checkFallback returns the first matching zone in snapshot order.
func (m *SpatialMatcher) checkFallback(lat, lon float64) domain.PointMatch {
	for _, f := range m.zones.Snapshot().Containing(lat, lon) {
		if geospatial.PointInGeometry(lat, lon, f.Original) {
			return domain.PointMatch{IsInZone: true, ZoneID: f.GeoID, Method: domain.MethodFallback}
		}
	}
	return domain.PointMatch{Method: domain.MethodFallback}
}
