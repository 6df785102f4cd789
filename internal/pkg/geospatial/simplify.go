package geospatial

import (
	"math"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// Simplify reduces vertex count with Douglas-Peucker at the given tolerance
// in degrees. Rings that would collapse below four vertices are kept as-is.
func Simplify(g domain.Geometry, tolerance float64) domain.Geometry {
	if tolerance <= 0 {
		return g
	}
	out := domain.Geometry{Type: g.Type, Polygons: make([]domain.Polygon, len(g.Polygons))}
	for i, poly := range g.Polygons {
		sp := make(domain.Polygon, len(poly))
		for j, ring := range poly {
			sp[j] = simplifyRing(ring, tolerance)
		}
		out.Polygons[i] = sp
	}
	return out
}

func simplifyRing(ring domain.Ring, tolerance float64) domain.Ring {
	n := len(ring)
	if n <= 4 {
		return ring
	}
	keep := make([]bool, n)
	keep[0], keep[n-1] = true, true

	type span struct{ first, last int }
	stack := []span{{0, n - 1}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		maxDist, idx := 0.0, -1
		for k := s.first + 1; k < s.last; k++ {
			d := segmentDistance(ring[k], ring[s.first], ring[s.last])
			if d > maxDist {
				maxDist, idx = d, k
			}
		}
		if idx >= 0 && maxDist > tolerance {
			keep[idx] = true
			stack = append(stack, span{s.first, idx}, span{idx, s.last})
		}
	}

	out := make(domain.Ring, 0, n)
	for k, ok := range keep {
		if ok {
			out = append(out, ring[k])
		}
	}
	if len(out) < 4 {
		return ring
	}
	return out
}

// segmentDistance is the planar distance from p to segment ab.
func segmentDistance(p, a, b domain.Point) float64 {
	dx, dy := b.Lon-a.Lon, b.Lat-a.Lat
	if dx == 0 && dy == 0 {
		return math.Hypot(p.Lon-a.Lon, p.Lat-a.Lat)
	}
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.Lon-(a.Lon+t*dx), p.Lat-(a.Lat+t*dy))
}
