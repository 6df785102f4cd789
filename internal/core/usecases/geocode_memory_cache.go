package usecases

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// memoryGeocodeCache is a bounded in-process GeocodeCacheRepository used when
// no database is configured. Least recently used entries are evicted first.
type memoryGeocodeCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

func newMemoryGeocodeCache(max int) *memoryGeocodeCache {
	return &memoryGeocodeCache{max: max, order: list.New(), entries: make(map[string]*list.Element)}
}

func (m *memoryGeocodeCache) Get(_ context.Context, key string) (*domain.GeocodeCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	m.order.MoveToFront(el)
	e := *el.Value.(*domain.GeocodeCacheEntry)
	return &e, nil
}

func (m *memoryGeocodeCache) Put(_ context.Context, entry *domain.GeocodeCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := *entry
	if el, ok := m.entries[e.NormalizedAddress]; ok {
		el.Value = &e
		m.order.MoveToFront(el)
		return nil
	}
	m.entries[e.NormalizedAddress] = m.order.PushFront(&e)
	for m.order.Len() > m.max {
		back := m.order.Back()
		delete(m.entries, back.Value.(*domain.GeocodeCacheEntry).NormalizedAddress)
		m.order.Remove(back)
	}
	return nil
}

func (m *memoryGeocodeCache) Stats(_ context.Context, now time.Time) (domain.GeocodeCacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st domain.GeocodeCacheStats
	for el := m.order.Front(); el != nil; el = el.Next() {
		st.TotalCached++
		if !el.Value.(*domain.GeocodeCacheEntry).Valid(now) {
			st.ExpiredEntries++
		}
	}
	return st, nil
}
