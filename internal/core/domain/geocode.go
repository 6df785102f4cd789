package domain

import "time"

// GeocodeResult is a resolved address.
type GeocodeResult struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"displayName"`
}

// GeocodeCacheEntry is a cached geocoder answer. When NotFound is set the
// coordinate fields carry no meaning.
type GeocodeCacheEntry struct {
	NormalizedAddress string
	Latitude          float64
	Longitude         float64
	DisplayName       string
	NotFound          bool
	CreatedAt         time.Time
	ExpiresAt         time.Time
}

// Valid reports whether the entry may still be served at now.
func (e *GeocodeCacheEntry) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Result returns the positive answer held by the entry.
func (e *GeocodeCacheEntry) Result() GeocodeResult {
	return GeocodeResult{Latitude: e.Latitude, Longitude: e.Longitude, DisplayName: e.DisplayName}
}

// GeocodeCacheStats counts cache rows.
type GeocodeCacheStats struct {
	TotalCached    int64 `json:"totalCached"`
	ExpiredEntries int64 `json:"expiredEntries"`
}
