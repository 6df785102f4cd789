package contiguity_test

import (
	"testing"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/pkg/contiguity"
)

func squareFeature(id string, minLon, minLat float64) domain.Feature {
	ring := domain.Ring{
		{Lon: minLon, Lat: minLat},
		{Lon: minLon + 1, Lat: minLat},
		{Lon: minLon + 1, Lat: minLat + 1},
		{Lon: minLon, Lat: minLat + 1},
		{Lon: minLon, Lat: minLat},
	}
	return domain.ZoneShape{
		GeoID:    id,
		Geometry: domain.Geometry{Type: domain.GeometryPolygon, Polygons: []domain.Polygon{{ring}}},
	}.ToFeature()
}

func TestAnalyze_SharedEdgeSameColor(t *testing.T) {
	features := []domain.Feature{
		squareFeature("A", 0, 0),
		squareFeature("B", 1, 0), // shares the x=1 edge with A
		squareFeature("C", 10, 10),
	}

	out, groups := contiguity.Analyze(features)
	if len(out) != 3 {
		t.Fatalf("expected 3 features, got %d", len(out))
	}
	if out[0].Properties["color"] != out[1].Properties["color"] {
		t.Errorf("adjacent zones got different colors: %v vs %v", out[0].Properties["color"], out[1].Properties["color"])
	}
	if out[0].Properties["color"] == out[2].Properties["color"] {
		t.Error("disjoint zone shares a color with the contiguous group")
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Members) != 2 || groups[0].Members[0] != "A" || groups[0].Members[1] != "B" {
		t.Errorf("unexpected first group: %+v", groups[0])
	}
	if out[2].Properties["strokeWeight"] != contiguity.StrokeWeight {
		t.Error("expected render hints on every feature")
	}
	if _, ok := features[0].Properties["color"]; ok {
		t.Error("input properties were mutated")
	}
}

func TestAnalyze_CornerTouchIsNotAdjacent(t *testing.T) {
	features := []domain.Feature{
		squareFeature("A", 0, 0),
		squareFeature("B", 1, 1), // touches A only at (1,1)
	}
	_, groups := contiguity.Analyze(features)
	if len(groups) != 2 {
		t.Fatalf("expected corner-touching zones in separate groups, got %d groups", len(groups))
	}
}

func TestAnalyze_WithinTolerance(t *testing.T) {
	b := squareFeature("B", 1+5e-7, 0)
	_, groups := contiguity.Analyze([]domain.Feature{squareFeature("A", 0, 0), b})
	if len(groups) != 1 {
		t.Fatalf("expected vertices within tolerance to match, got %d groups", len(groups))
	}
}

func TestAnalyze_TransitiveChain(t *testing.T) {
	features := []domain.Feature{
		squareFeature("A", 0, 0),
		squareFeature("Z", 20, 20),
		squareFeature("B", 1, 0),
		squareFeature("C", 2, 0),
	}
	_, groups := contiguity.Analyze(features)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups[0].Members) != 3 {
		t.Errorf("expected chain A-B-C in one group, got %+v", groups[0])
	}
}

func TestAnalyze_PaletteCycles(t *testing.T) {
	n := len(contiguity.Palette) + 2
	features := make([]domain.Feature, n)
	for i := range features {
		features[i] = squareFeature(string(rune('a'+i)), float64(i*10), 0)
	}
	out, _ := contiguity.Analyze(features)
	if out[len(contiguity.Palette)].Properties["color"] != contiguity.Palette[0] {
		t.Error("expected palette to wrap around")
	}
}

func TestStats(t *testing.T) {
	features := []domain.Feature{
		squareFeature("A", 0, 0),
		squareFeature("B", 1, 0),
		squareFeature("C", 10, 10),
	}
	st := contiguity.Stats(features)
	want := domain.ContiguityStats{
		TotalZones:       3,
		ContiguousGroups: 2,
		LargestGroupSize: 2,
		AverageGroupSize: 1.5,
		IsolatedZones:    1,
	}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
}

func TestStats_Empty(t *testing.T) {
	st := contiguity.Stats(nil)
	if st.TotalZones != 0 || st.ContiguousGroups != 0 || st.AverageGroupSize != 0 {
		t.Errorf("unexpected stats for empty input: %+v", st)
	}
}
