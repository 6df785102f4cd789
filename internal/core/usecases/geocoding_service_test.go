package usecases_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/usecases"
)

// --- Mock Geocoder ---

type mockGeocoder struct {
	mu        sync.Mutex
	geocodeFn func(ctx context.Context, address string) (*domain.GeocodeResult, error)
	calls     int
}

func (m *mockGeocoder) Geocode(ctx context.Context, address string) (*domain.GeocodeResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.geocodeFn != nil {
		return m.geocodeFn(ctx, address)
	}
	return nil, domain.NotFound("geocode", "no match")
}

func (m *mockGeocoder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock GeocodeCacheRepository ---

type mockGeocodeRepo struct {
	mu      sync.Mutex
	entries map[string]domain.GeocodeCacheEntry
	getErr  error
}

func newMockGeocodeRepo() *mockGeocodeRepo {
	return &mockGeocodeRepo{entries: map[string]domain.GeocodeCacheEntry{}}
}

func (m *mockGeocodeRepo) Get(ctx context.Context, key string) (*domain.GeocodeCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *mockGeocodeRepo) Put(ctx context.Context, entry *domain.GeocodeCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.NormalizedAddress] = *entry
	return nil
}

func (m *mockGeocodeRepo) Stats(ctx context.Context, now time.Time) (domain.GeocodeCacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st domain.GeocodeCacheStats
	for _, e := range m.entries {
		st.TotalCached++
		if !e.Valid(now) {
			st.ExpiredEntries++
		}
	}
	return st, nil
}

func newGeocodingService(g *mockGeocoder, repo *mockGeocodeRepo, now *time.Time) *usecases.GeocodingService {
	svc := usecases.NewGeocodingService(g, repo, usecases.GeocodingConfig{RequestsPerSecond: 1000, Burst: 10})
	svc.SetClock(func() time.Time { return *now })
	return svc
}

const whiteHouse = "1600 Pennsylvania Ave NW, Washington, DC 20500"

func TestNormalizeAddress(t *testing.T) {
	tests := []struct{ in, want string }{
		{whiteHouse, "1600 pennsylvania ave nw, washington, dc 20500"},
		{"  1600   PENNSYLVANIA Ave NW,\tWashington, DC 20500.  ", "1600 pennsylvania ave nw, washington, dc 20500"},
		{"ＭＡＩＮ ＳＴ", "main st"},
		{"Straße 5", "strasse 5"},
		{" ... ", ""},
	}
	for _, tt := range tests {
		if got := usecases.NormalizeAddress(tt.in); got != tt.want {
			t.Errorf("NormalizeAddress(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGeocodingService_CachesPositiveResult(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Latitude: 38.8977, Longitude: -77.0365, DisplayName: "White House"}, nil
	}}
	repo := newMockGeocodeRepo()
	svc := newGeocodingService(g, repo, &now)

	first, err := svc.GeocodeAddress(context.Background(), whiteHouse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GeocodeAddress(context.Background(), "1600 pennsylvania ave nw,  washington, dc 20500")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.callCount() != 1 {
		t.Errorf("expected 1 upstream call, got %d", g.callCount())
	}
	if *first != *second {
		t.Errorf("expected identical results, got %+v and %+v", first, second)
	}
	entry := repo.entries["1600 pennsylvania ave nw, washington, dc 20500"]
	if entry.NotFound || !entry.ExpiresAt.Equal(now.Add(30*24*time.Hour)) {
		t.Errorf("unexpected cache entry: %+v", entry)
	}
}

func TestGeocodingService_NegativeCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &mockGeocoder{}
	repo := newMockGeocodeRepo()
	svc := newGeocodingService(g, repo, &now)

	for i := 0; i < 3; i++ {
		_, err := svc.GeocodeAddress(context.Background(), "nowhere lane 0")
		if !domain.IsKind(err, domain.KindNotFound) {
			t.Fatalf("call %d: expected not found, got %v", i, err)
		}
	}
	if g.callCount() != 1 {
		t.Errorf("expected 1 upstream call while negative entry is fresh, got %d", g.callCount())
	}

	now = now.Add(7*24*time.Hour + time.Second)
	_, _ = svc.GeocodeAddress(context.Background(), "nowhere lane 0")
	if g.callCount() != 2 {
		t.Errorf("expected upstream call after negative entry expired, got %d", g.callCount())
	}
}

func TestGeocodingService_ExpiredPositiveEntryRefetches(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Latitude: 1, Longitude: 2}, nil
	}}
	repo := newMockGeocodeRepo()
	repo.entries["main st"] = domain.GeocodeCacheEntry{
		NormalizedAddress: "main st", Latitude: 9, Longitude: 9,
		CreatedAt: now.Add(-31 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	svc := newGeocodingService(g, repo, &now)

	res, err := svc.GeocodeAddress(context.Background(), "Main St")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Latitude != 1 || g.callCount() != 1 {
		t.Errorf("expected fresh upstream result, got %+v after %d calls", res, g.callCount())
	}
}

func TestGeocodingService_RateLimitNotCached(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := domain.RateLimitState{Limit: 60, Remaining: 0, ResetAt: now.Add(time.Minute), RetryAfter: 30 * time.Second}
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return nil, domain.RateLimited("nominatim.search", state)
	}}
	repo := newMockGeocodeRepo()
	svc := newGeocodingService(g, repo, &now)

	_, err := svc.GeocodeAddress(context.Background(), whiteHouse)
	if !domain.IsKind(err, domain.KindRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	rl, ok := domain.RateLimitOf(err)
	if !ok || rl.RetryAfter != 30*time.Second || rl.Limit != 60 {
		t.Errorf("expected rate limit metadata to survive, got %+v", rl)
	}
	if g.callCount() != 1 {
		t.Errorf("expected no automatic retry, got %d calls", g.callCount())
	}
	if len(repo.entries) != 0 {
		t.Errorf("rate limited answers must not be cached, got %v", repo.entries)
	}
}

func TestGeocodingService_UpstreamErrorNotCached(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return nil, errors.New("502 bad gateway")
	}}
	repo := newMockGeocodeRepo()
	svc := newGeocodingService(g, repo, &now)

	_, err := svc.GeocodeAddress(context.Background(), whiteHouse)
	if !domain.IsKind(err, domain.KindUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if len(repo.entries) != 0 {
		t.Error("transient failures must not be cached")
	}
}

func TestGeocodingService_CacheReadErrorFallsThrough(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Latitude: 3, Longitude: 4}, nil
	}}
	repo := newMockGeocodeRepo()
	repo.getErr = errors.New("connection reset")
	svc := newGeocodingService(g, repo, &now)

	res, err := svc.GeocodeAddress(context.Background(), whiteHouse)
	if err != nil || res.Latitude != 3 {
		t.Fatalf("expected upstream result, got %+v, %v", res, err)
	}
}

func TestGeocodingService_EmptyAddress(t *testing.T) {
	now := time.Now()
	g := &mockGeocoder{}
	svc := newGeocodingService(g, newMockGeocodeRepo(), &now)

	_, err := svc.GeocodeAddress(context.Background(), "   ")
	if !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if g.callCount() != 0 {
		t.Error("expected no upstream call")
	}
}

func TestGeocodingService_CacheStats(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMockGeocodeRepo()
	repo.entries["a"] = domain.GeocodeCacheEntry{NormalizedAddress: "a", ExpiresAt: now.Add(time.Hour)}
	repo.entries["b"] = domain.GeocodeCacheEntry{NormalizedAddress: "b", ExpiresAt: now.Add(-time.Hour)}
	svc := newGeocodingService(&mockGeocoder{}, repo, &now)

	st, err := svc.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalCached != 2 || st.ExpiredEntries != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func blockingGeocoder(gate <-chan struct{}, started chan<- struct{}) *mockGeocoder {
	return &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
			return &domain.GeocodeResult{Latitude: 38.8977, Longitude: -77.0365}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func TestGeocodingService_FirstCallerCancelDoesNotAbortSharedLookup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	g := blockingGeocoder(gate, started)
	repo := newMockGeocodeRepo()
	svc := newGeocodingService(g, repo, &now)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.GeocodeAddress(ctx, whiteHouse)
		errc <- err
	}()
	<-started
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the cancelled caller to see context.Canceled, got %v", err)
	}

	close(gate)
	key := usecases.NormalizeAddress(whiteHouse)
	waitFor(t, func() bool {
		e, _ := repo.Get(context.Background(), key)
		return e != nil && !e.NotFound
	})

	res, err := svc.GeocodeAddress(context.Background(), whiteHouse)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Latitude != 38.8977 {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := g.callCount(); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestGeocodingService_WaiterCancelLeavesOthersWaiting(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	g := blockingGeocoder(gate, started)
	svc := newGeocodingService(g, newMockGeocodeRepo(), &now)

	type outcome struct {
		res *domain.GeocodeResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := svc.GeocodeAddress(context.Background(), whiteHouse)
		first <- outcome{res, err}
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.GeocodeAddress(ctx, whiteHouse); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled waiter to return context.Canceled, got %v", err)
	}

	close(gate)
	got := <-first
	if got.err != nil {
		t.Fatalf("live caller failed: %v", got.err)
	}
	if got.res.Longitude != -77.0365 {
		t.Errorf("unexpected result: %+v", got.res)
	}
	if n := g.callCount(); n != 1 {
		t.Errorf("expected 1 upstream call, got %d", n)
	}
}

func TestGeocodingService_NilRepoStillCaches(t *testing.T) {
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Latitude: 1, Longitude: 2}, nil
	}}
	svc := usecases.NewGeocodingService(g, nil, usecases.GeocodingConfig{RequestsPerSecond: 1000, Burst: 10})

	for i := 0; i < 2; i++ {
		if _, err := svc.GeocodeAddress(context.Background(), whiteHouse); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if n := g.callCount(); n != 1 {
		t.Errorf("expected second call to be served from memory, got %d upstream calls", n)
	}

	st, err := svc.CacheStats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.TotalCached != 1 || st.ExpiredEntries != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestGeocodingService_NilRepoEvictsLeastRecentlyUsed(t *testing.T) {
	g := &mockGeocoder{geocodeFn: func(ctx context.Context, address string) (*domain.GeocodeResult, error) {
		return &domain.GeocodeResult{Latitude: 1, Longitude: 2}, nil
	}}
	svc := usecases.NewGeocodingService(g, nil, usecases.GeocodingConfig{RequestsPerSecond: 1000, Burst: 10, MemoryEntries: 2})
	ctx := context.Background()

	for _, a := range []string{"1 Main St", "2 Main St", "1 Main St", "3 Main St"} {
		if _, err := svc.GeocodeAddress(ctx, a); err != nil {
			t.Fatalf("%s: unexpected error: %v", a, err)
		}
	}
	// "2 Main St" was least recently used when "3 Main St" arrived.
	if _, err := svc.GeocodeAddress(ctx, "1 Main St"); err != nil {
		t.Fatal(err)
	}
	if n := g.callCount(); n != 3 {
		t.Errorf("expected 3 upstream calls before re-asking an evicted key, got %d", n)
	}
	if _, err := svc.GeocodeAddress(ctx, "2 Main St"); err != nil {
		t.Fatal(err)
	}
	if n := g.callCount(); n != 4 {
		t.Errorf("expected evicted key to go upstream again, got %d calls", n)
	}
}
