package geospatial

import "github.com/samirrijal/opzones/internal/core/domain"

// GeometryIntersectsBounds reports whether any polygon of g shares at least
// one point with the viewport rectangle. Touching counts as intersecting.
func GeometryIntersectsBounds(g domain.Geometry, b domain.Bounds) bool {
	for _, poly := range g.Polygons {
		if PolygonIntersectsBounds(poly, b) {
			return true
		}
	}
	return false
}

// PolygonIntersectsBounds tests a single polygon with holes against the
// viewport. A viewport lying wholly inside a hole does not intersect.
func PolygonIntersectsBounds(poly domain.Polygon, b domain.Bounds) bool {
	if len(poly) == 0 {
		return false
	}
	for _, ring := range poly {
		for _, p := range ring {
			if inBounds(p, b) {
				return true
			}
		}
	}

	corners := [4]domain.Point{
		{Lon: b.West, Lat: b.South},
		{Lon: b.East, Lat: b.South},
		{Lon: b.East, Lat: b.North},
		{Lon: b.West, Lat: b.North},
	}
	for _, c := range corners {
		if PointInPolygon(c.Lat, c.Lon, poly) {
			return true
		}
	}

	for _, ring := range poly {
		n := len(ring)
		for i := 0; i < n; i++ {
			a, z := ring[i], ring[(i+1)%n]
			for k := range corners {
				if segmentsIntersect(a, z, corners[k], corners[(k+1)%4]) {
					return true
				}
			}
		}
	}
	return false
}

func inBounds(p domain.Point, b domain.Bounds) bool {
	return p.Lon >= b.West && p.Lon <= b.East && p.Lat >= b.South && p.Lat <= b.North
}

// orientation is positive for a counter-clockwise turn a→b→c, negative for
// clockwise and zero when collinear.
func orientation(a, b, c domain.Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegment(a, b, p domain.Point) bool {
	return min(a.Lon, b.Lon) <= p.Lon && p.Lon <= max(a.Lon, b.Lon) &&
		min(a.Lat, b.Lat) <= p.Lat && p.Lat <= max(a.Lat, b.Lat)
}

func segmentsIntersect(p1, p2, q1, q2 domain.Point) bool {
	d1 := orientation(q1, q2, p1)
	d2 := orientation(q1, q2, p2)
	d3 := orientation(p1, p2, q1)
	d4 := orientation(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}
