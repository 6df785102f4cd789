package usecases

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

// GeocodingConfig tunes the geocoding cache.
type GeocodingConfig struct {
	CacheTTL          time.Duration
	NegativeTTL       time.Duration
	RequestsPerSecond float64
	Burst             int
	UpstreamTimeout   time.Duration
	// MemoryEntries bounds the in-process cache used when repo is nil.
	MemoryEntries int
}

// GeocodingService resolves addresses through a persistent cache in front of
// a rate-limited upstream geocoder.
type GeocodingService struct {
	geocoder ports.Geocoder
	repo     ports.GeocodeCacheRepository
	cfg      GeocodingConfig
	limiter  *rate.Limiter
	group    singleflight.Group
	now      func() time.Time
}

// NewGeocodingService creates a GeocodingService. A nil repo falls back to a
// bounded in-process cache that does not survive restarts.
func NewGeocodingService(geocoder ports.Geocoder, repo ports.GeocodeCacheRepository, cfg GeocodingConfig) *GeocodingService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * 24 * time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 7 * 24 * time.Hour
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 10 * time.Second
	}
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = 10000
	}
	if repo == nil {
		repo = newMemoryGeocodeCache(cfg.MemoryEntries)
	}
	return &GeocodingService{
		geocoder: geocoder,
		repo:     repo,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		now:      time.Now,
	}
}

// SetClock replaces time.Now. Intended for tests.
func (s *GeocodingService) SetClock(now func() time.Time) { s.now = now }

// NormalizeAddress maps equivalent spellings of an address to one cache key.
func NormalizeAddress(address string) string {
	a := norm.NFKC.String(address)
	a = cases.Fold().String(a)
	a = strings.Join(strings.Fields(a), " ")
	return strings.TrimRight(a, ".,;:!? ")
}

// GeocodeAddress resolves address. A cached negative answer fails with a
// KindNotFound error without calling upstream. Upstream rate limiting is
// returned as a KindRateLimited error and is neither cached nor retried.
func (s *GeocodingService) GeocodeAddress(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	const op = "geocode"
	key := NormalizeAddress(address)
	if key == "" {
		return nil, domain.Validationf(op, "address is required")
	}

	ctx, span := tracer.Start(ctx, "GeocodingService.GeocodeAddress")
	defer span.End()

	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		slog.Warn("geocode cache read failed", "error", err)
	}
	if entry != nil && entry.Valid(s.now()) {
		metrics.CacheHits.WithLabelValues("geocode").Inc()
		span.SetAttributes(attribute.Bool("geocode.cache_hit", true))
		if entry.NotFound {
			return nil, domain.NotFound(op, "no match for address (cached)")
		}
		res := entry.Result()
		return &res, nil
	}
	metrics.CacheMisses.WithLabelValues("geocode").Inc()
	span.SetAttributes(attribute.Bool("geocode.cache_hit", false))

	// The shared call outlives any single caller; each caller stops waiting
	// when its own context ends.
	ch := s.group.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UpstreamTimeout)
		defer cancel()
		return s.resolve(rctx, key, strings.TrimSpace(address))
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			span.RecordError(r.Err)
			return nil, r.Err
		}
		res := r.Val.(domain.GeocodeResult)
		return &res, nil
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, domain.Wrap(domain.KindUpstream, op, ctx.Err())
	}
}

func (s *GeocodingService) resolve(ctx context.Context, key, address string) (domain.GeocodeResult, error) {
	const op = "geocode"

	if err := s.limiter.Wait(ctx); err != nil {
		return domain.GeocodeResult{}, domain.Wrap(domain.KindUpstream, op, err)
	}

	uctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	res, err := s.geocoder.Geocode(uctx, address)
	cancel()

	switch {
	case err == nil && res != nil:
		metrics.GeocodeUpstreamCalls.WithLabelValues("ok").Inc()
		now := s.now()
		s.put(ctx, &domain.GeocodeCacheEntry{
			NormalizedAddress: key,
			Latitude:          res.Latitude,
			Longitude:         res.Longitude,
			DisplayName:       res.DisplayName,
			CreatedAt:         now,
			ExpiresAt:         now.Add(s.cfg.CacheTTL),
		})
		return *res, nil

	case err == nil || domain.IsKind(err, domain.KindNotFound):
		metrics.GeocodeUpstreamCalls.WithLabelValues("not_found").Inc()
		now := s.now()
		s.put(ctx, &domain.GeocodeCacheEntry{
			NormalizedAddress: key,
			NotFound:          true,
			CreatedAt:         now,
			ExpiresAt:         now.Add(s.cfg.NegativeTTL),
		})
		return domain.GeocodeResult{}, domain.NotFound(op, "no match for address")

	case domain.IsKind(err, domain.KindRateLimited):
		metrics.GeocodeUpstreamCalls.WithLabelValues("rate_limited").Inc()
		slog.Warn("geocoder rate limited", "error", err)
		return domain.GeocodeResult{}, err

	default:
		metrics.GeocodeUpstreamCalls.WithLabelValues("error").Inc()
		return domain.GeocodeResult{}, domain.Wrap(domain.KindUpstream, op, err)
	}
}

func (s *GeocodingService) put(ctx context.Context, entry *domain.GeocodeCacheEntry) {
	if err := s.repo.Put(ctx, entry); err != nil {
		slog.Warn("geocode cache write failed", "key", entry.NormalizedAddress, "error", err)
	}
}

// CacheStats counts cached entries and how many of them have expired.
func (s *GeocodingService) CacheStats(ctx context.Context) (domain.GeocodeCacheStats, error) {
	return s.repo.Stats(ctx, s.now())
}
