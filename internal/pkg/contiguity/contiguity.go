// Package contiguity groups touching zone polygons so that adjacent zones
// share a render color.
//
// Adjacency is a pairwise vertex comparison, O(n²·m) for n features with m
// vertices each. Callers must keep batches small (the shapes API caps them
// at MaxFeatures); larger inputs need a spatial index before this step.
package contiguity

import (
	"math"
	"sort"

	"github.com/samirrijal/opzones/internal/core/domain"
)

// MaxFeatures is the largest batch the analyzer is meant to see.
const MaxFeatures = 50

// Tolerance is the per-axis distance, in degrees, under which two vertices
// are the same point (about 0.1 m).
const Tolerance = 1e-6

// minSharedVertices is the number of coincident vertices taken as evidence of
// a shared edge rather than a touching corner.
const minSharedVertices = 2

// Render hints attached to every analyzed feature.
const (
	FillOpacity   = 0.35
	StrokeOpacity = 0.8
	StrokeWeight  = 1.5
)

// Palette is cycled through in component order.
var Palette = []string{
	"#2563eb", "#16a34a", "#dc2626", "#9333ea", "#ea580c",
	"#0891b2", "#ca8a04", "#db2777", "#4f46e5", "#65a30d",
}

// Group is one connected component of adjacent features.
type Group struct {
	Members []string
	Color   string
}

// Analyze colors features by contiguity. The returned features share
// geometry with the input but carry fresh property maps; the input is not
// modified. Color assignment follows input order, so callers wanting stable
// colors across requests must pass features in a stable order.
func Analyze(features []domain.Feature) ([]domain.Feature, []Group) {
	components := Components(features)

	groups := make([]Group, len(components))
	colorOf := make([]string, len(features))
	for gi, comp := range components {
		color := Palette[gi%len(Palette)]
		members := make([]string, len(comp))
		for k, idx := range comp {
			colorOf[idx] = color
			members[k] = featureID(features[idx])
		}
		groups[gi] = Group{Members: members, Color: color}
	}

	out := make([]domain.Feature, len(features))
	for i, f := range features {
		props := make(map[string]any, len(f.Properties)+4)
		for k, v := range f.Properties {
			props[k] = v
		}
		props["color"] = colorOf[i]
		props["fillOpacity"] = FillOpacity
		props["strokeOpacity"] = StrokeOpacity
		props["strokeWeight"] = StrokeWeight
		out[i] = domain.Feature{Type: f.Type, Geometry: f.Geometry, Properties: props}
	}
	return out, groups
}

// Stats summarises the connected components of features.
func Stats(features []domain.Feature) domain.ContiguityStats {
	components := Components(features)
	st := domain.ContiguityStats{
		TotalZones:       len(features),
		ContiguousGroups: len(components),
	}
	for _, c := range components {
		if len(c) > st.LargestGroupSize {
			st.LargestGroupSize = len(c)
		}
		if len(c) == 1 {
			st.IsolatedZones++
		}
	}
	if len(components) > 0 {
		avg := float64(len(features)) / float64(len(components))
		st.AverageGroupSize = math.Round(avg*100) / 100
	}
	return st
}

// Components returns connected components as lists of input indices. Both
// the component order and the order within a component follow the input.
func Components(features []domain.Feature) [][]int {
	n := len(features)
	vertices := make([][]domain.Point, n)
	for i, f := range features {
		vertices[i] = ringVertices(f.Geometry)
	}

	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if adjacent(vertices[i], vertices[j]) {
				adj[i] = append(adj[i], j)
				adj[j] = append(adj[j], i)
			}
		}
	}

	visited := make([]bool, n)
	var comps [][]int
	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		visited[start] = true
		comp := []int{start}
		stack := []int{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, nb := range adj[cur] {
				if !visited[nb] {
					visited[nb] = true
					comp = append(comp, nb)
					stack = append(stack, nb)
				}
			}
		}
		sort.Ints(comp)
		comps = append(comps, comp)
	}
	return comps
}

// ringVertices flattens every ring of every polygon, dropping each ring's
// closing vertex so a shared corner is not counted twice.
func ringVertices(g domain.Geometry) []domain.Point {
	var pts []domain.Point
	for _, poly := range g.Polygons {
		for _, ring := range poly {
			r := ring
			if len(r) > 1 && r[0] == r[len(r)-1] {
				r = r[:len(r)-1]
			}
			pts = append(pts, r...)
		}
	}
	return pts
}

func adjacent(a, b []domain.Point) bool {
	shared := 0
	for _, p := range a {
		for _, q := range b {
			if math.Abs(p.Lon-q.Lon) <= Tolerance && math.Abs(p.Lat-q.Lat) <= Tolerance {
				shared++
				if shared >= minSharedVertices {
					return true
				}
				break
			}
		}
	}
	return false
}

func featureID(f domain.Feature) string {
	for _, k := range []string{"geoid", "GEOID"} {
		if s, ok := f.Properties[k].(string); ok {
			return s
		}
	}
	return ""
}
