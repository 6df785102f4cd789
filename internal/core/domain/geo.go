package domain

import (
	"encoding/json"
	"fmt"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds represents a map viewport in degrees.
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate reports whether the viewport is well-formed.
func (b Bounds) Validate() error {
	if !(b.North > b.South) {
		return Validationf("bounds", "north (%v) must be greater than south (%v)", b.North, b.South)
	}
	if !(b.East > b.West) {
		return Validationf("bounds", "east (%v) must be greater than west (%v)", b.East, b.West)
	}
	return nil
}

// Point is a GeoJSON position. It marshals as [lon, lat].
type Point struct {
	Lon float64
	Lat float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lon, p.Lat})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("position needs at least 2 values, got %d", len(raw))
	}
	p.Lon, p.Lat = raw[0], raw[1]
	return nil
}

// Ring is a closed linear ring.
type Ring []Point

// Polygon holds an outer ring followed by zero or more holes.
type Polygon []Ring

// Geometry types accepted for zones.
const (
	GeometryPolygon      = "Polygon"
	GeometryMultiPolygon = "MultiPolygon"
)

// Geometry is a Polygon or MultiPolygon. A Polygon is stored as a single
// entry in Polygons so callers can treat both shapes uniformly.
type Geometry struct {
	Type     string
	Polygons []Polygon
}

type geometryJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords any
	switch g.Type {
	case GeometryPolygon:
		if len(g.Polygons) == 0 {
			coords = []Ring{}
		} else {
			coords = g.Polygons[0]
		}
	case GeometryMultiPolygon:
		coords = g.Polygons
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", g.Type)
	}
	return json.Marshal(struct {
		Type        string `json:"type"`
		Coordinates any    `json:"coordinates"`
	}{g.Type, coords})
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var raw geometryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case GeometryPolygon:
		var p Polygon
		if err := json.Unmarshal(raw.Coordinates, &p); err != nil {
			return fmt.Errorf("polygon coordinates: %w", err)
		}
		g.Type, g.Polygons = raw.Type, []Polygon{p}
	case GeometryMultiPolygon:
		var mp []Polygon
		if err := json.Unmarshal(raw.Coordinates, &mp); err != nil {
			return fmt.Errorf("multipolygon coordinates: %w", err)
		}
		g.Type, g.Polygons = raw.Type, mp
	default:
		return fmt.Errorf("unsupported geometry type %q", raw.Type)
	}
	return nil
}

// IsEmpty reports whether the geometry has no usable outer ring.
func (g Geometry) IsEmpty() bool {
	for _, p := range g.Polygons {
		if len(p) > 0 && len(p[0]) >= 3 {
			return false
		}
	}
	return true
}

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies within the box, edges included.
func (b BBox) Contains(lat, lon float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Intersects reports whether the box and the viewport share a point, edges
// included.
func (b BBox) Intersects(v Bounds) bool {
	return b.MinLon <= v.East && b.MaxLon >= v.West && b.MinLat <= v.North && b.MaxLat >= v.South
}
