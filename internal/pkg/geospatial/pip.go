// Package geospatial holds the in-process geometry routines used when the
// database spatial index is not available.
package geospatial

import "github.com/samirrijal/opzones/internal/core/domain"

// PointInGeometry reports whether the point lies inside any polygon of g.
// A polygon contains the point when its outer ring does and none of its
// holes do (even-odd rule).
func PointInGeometry(lat, lon float64, g domain.Geometry) bool {
	for _, poly := range g.Polygons {
		if PointInPolygon(lat, lon, poly) {
			return true
		}
	}
	return false
}

// PointInPolygon tests a single polygon with holes.
func PointInPolygon(lat, lon float64, poly domain.Polygon) bool {
	if len(poly) == 0 || !PointInRing(lat, lon, poly[0]) {
		return false
	}
	for _, hole := range poly[1:] {
		if PointInRing(lat, lon, hole) {
			return false
		}
	}
	return true
}

// PointInRing casts a ray east from the point and counts edge crossings.
func PointInRing(lat, lon float64, ring domain.Ring) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if (yi > lat) != (yj > lat) && lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// ComputeBBox returns the bounding box of every vertex in g.
func ComputeBBox(g domain.Geometry) domain.BBox {
	b := domain.BBox{MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
	for _, poly := range g.Polygons {
		for _, ring := range poly {
			for _, p := range ring {
				if p.Lon < b.MinLon {
					b.MinLon = p.Lon
				}
				if p.Lat < b.MinLat {
					b.MinLat = p.Lat
				}
				if p.Lon > b.MaxLon {
					b.MaxLon = p.Lon
				}
				if p.Lat > b.MaxLat {
					b.MaxLat = p.Lat
				}
			}
		}
	}
	return b
}
