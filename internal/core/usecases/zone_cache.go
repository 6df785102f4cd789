package usecases

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

var tracer = otel.Tracer("github.com/samirrijal/opzones/internal/core/usecases")

// ZoneCacheConfig tunes the zone snapshot lifecycle.
type ZoneCacheConfig struct {
	RefreshInterval   time.Duration // 0 disables the scheduled refresh
	FetchTimeout      time.Duration
	SimplifyTolerance float64
}

// ZoneCache owns the current zone snapshot and refreshes it from the bulk
// dataset. Readers never block on a refresh and never observe a partially
// loaded snapshot.
type ZoneCache struct {
	source    ports.DatasetSource
	publisher ports.EventPublisher
	cfg       ZoneCacheConfig
	now       func() time.Time

	current atomic.Pointer[domain.Snapshot]

	mu       sync.Mutex
	inflight *refreshCall

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// refreshCall is the in-flight marker shared by coalesced ForceRefresh callers.
// waiters counts the callers that joined it.
type refreshCall struct {
	done    chan struct{}
	snap    *domain.Snapshot
	err     error
	waiters int
}

// ZoneCacheOption customises a ZoneCache.
type ZoneCacheOption func(*ZoneCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ZoneCacheOption {
	return func(c *ZoneCache) { c.now = now }
}

// WithPublisher announces refreshed snapshots. Publishing is best-effort.
func WithPublisher(p ports.EventPublisher) ZoneCacheOption {
	return func(c *ZoneCache) { c.publisher = p }
}

// NewZoneCache creates a ZoneCache holding an empty version-0 snapshot.
func NewZoneCache(source ports.DatasetSource, cfg ZoneCacheConfig, opts ...ZoneCacheOption) *ZoneCache {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	c := &ZoneCache{
		source: source,
		cfg:    cfg,
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.current.Store(domain.NewSnapshot(nil, 0, "", time.Time{}, time.Time{}))
	return c
}

// Snapshot returns the latest successfully loaded snapshot.
func (c *ZoneCache) Snapshot() *domain.Snapshot {
	return c.current.Load()
}

// Status summarises the current snapshot.
func (c *ZoneCache) Status() domain.CacheStatus {
	s := c.Snapshot()
	return domain.CacheStatus{
		IsAvailable:    s.Len() > 0,
		LastUpdated:    s.LoadedAt,
		NextRefreshDue: s.NextRefreshDue,
		FeatureCount:   s.Len(),
		Version:        s.Version,
		DataHash:       s.DataHash,
	}
}

// Metadata returns the snapshot fields attached to check responses.
func (c *ZoneCache) Metadata() domain.CacheMetadata {
	s := c.Snapshot()
	return domain.CacheMetadata{Version: s.Version, LastUpdated: s.LoadedAt, FeatureCount: s.Len()}
}

// ForceRefresh reloads the dataset now. Callers arriving while a refresh is
// running wait for it and share its outcome instead of fetching again. On
// failure the previous snapshot stays current and a KindRefresh error is
// returned.
func (c *ZoneCache) ForceRefresh(ctx context.Context) (*domain.Snapshot, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		call.waiters++
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.snap, call.err
		case <-ctx.Done():
			return nil, domain.Wrap(domain.KindRefresh, "zone_cache.refresh", ctx.Err())
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	// Waiters share this result, so it must not die with the first caller.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	call.snap, call.err = c.refresh(refreshCtx)
	cancel()

	c.mu.Lock()
	c.inflight = nil
	waiters := call.waiters
	c.mu.Unlock()
	close(call.done)

	if waiters > 0 {
		metrics.ZoneRefreshesCoalesced.Add(float64(waiters))
		slog.Debug("zone refresh coalesced", "waiters", waiters)
	}

	return call.snap, call.err
}

func (c *ZoneCache) refresh(ctx context.Context) (*domain.Snapshot, error) {
	ctx, span := tracer.Start(ctx, "ZoneCache.refresh")
	defer span.End()

	start := time.Now()
	snap, changed, err := c.load(ctx)
	metrics.ZoneRefreshDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ZoneRefreshes.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		prev := c.Snapshot()
		slog.Error("zone refresh failed, keeping previous snapshot",
			"error", err, "version", prev.Version, "features", prev.Len())
		return nil, err
	}

	c.current.Store(snap)
	metrics.ZoneSnapshotFeatures.Set(float64(snap.Len()))
	metrics.ZoneSnapshotVersion.Set(float64(snap.Version))
	span.SetAttributes(
		attribute.Int64("zones.version", int64(snap.Version)),
		attribute.Int("zones.features", snap.Len()),
		attribute.Bool("zones.changed", changed),
	)

	if !changed {
		metrics.ZoneRefreshes.WithLabelValues("unchanged").Inc()
		slog.Info("zone dataset unchanged", "version", snap.Version, "hash", snap.DataHash)
		return snap, nil
	}

	metrics.ZoneRefreshes.WithLabelValues("updated").Inc()
	slog.Info("zone snapshot refreshed",
		"version", snap.Version, "features", snap.Len(), "hash", snap.DataHash,
		"took", time.Since(start).String())
	c.announce(ctx)
	return snap, nil
}

// load fetches and parses the dataset into the next snapshot without
// publishing it. changed is false when the payload hash matches the current
// snapshot, in which case version and hash are carried over.
func (c *ZoneCache) load(ctx context.Context) (*domain.Snapshot, bool, error) {
	const op = "zone_cache.refresh"

	payload, err := c.source.Fetch(ctx)
	if err != nil {
		return nil, false, domain.Wrap(domain.KindRefresh, op, fmt.Errorf("fetch dataset: %w", err))
	}
	if len(payload) == 0 {
		return nil, false, &domain.Error{Kind: domain.KindRefresh, Op: op, Message: "dataset payload is empty"}
	}

	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])
	now := c.now()
	nextDue := c.nextDue(now)

	prev := c.Snapshot()
	if prev.Len() > 0 && prev.DataHash == hash {
		return prev.Rescheduled(now, nextDue), false, nil
	}

	features, report, err := geospatial.DecodeZones(payload, c.cfg.SimplifyTolerance)
	if err != nil {
		return nil, false, domain.Wrap(domain.KindRefresh, op, err)
	}
	if len(features) == 0 {
		return nil, false, &domain.Error{Kind: domain.KindRefresh, Op: op, Message: "dataset contains no zones"}
	}
	if len(report.Duplicates) > 0 || report.Skipped > 0 {
		slog.Warn("zone dataset had unusable rows",
			"duplicates", len(report.Duplicates), "skipped", report.Skipped)
	}

	return domain.NewSnapshot(features, prev.Version+1, hash, now, nextDue), true, nil
}

func (c *ZoneCache) nextDue(now time.Time) time.Time {
	if c.cfg.RefreshInterval <= 0 {
		return time.Time{}
	}
	return now.Add(c.cfg.RefreshInterval)
}

func (c *ZoneCache) announce(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.publisher.PublishSnapshotRefreshed(ctx, c.Status()); err != nil {
		slog.Warn("publish snapshot refreshed failed", "error", err)
	}
}

// Init performs the first load. A failure is returned for logging but leaves
// the cache usable with an empty snapshot.
func (c *ZoneCache) Init(ctx context.Context) error {
	_, err := c.ForceRefresh(ctx)
	return err
}

// Start launches the scheduled refresh loop. Failures are logged and the
// next tick is awaited as usual.
func (c *ZoneCache) Start(ctx context.Context) {
	if c.cfg.RefreshInterval <= 0 {
		return
	}
	c.startOnce.Do(func() {
		go c.loop(ctx)
	})
}

func (c *ZoneCache) loop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.ForceRefresh(ctx); err != nil {
				slog.Error("scheduled zone refresh failed", "error", err,
					"next_attempt", c.now().Add(c.cfg.RefreshInterval))
			}
		}
	}
}

// Shutdown stops the refresh loop and waits for it to exit.
func (c *ZoneCache) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	started := true
	c.startOnce.Do(func() { started = false })
	if started {
		<-c.done
	}
}
