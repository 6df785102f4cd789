package domain

// Feature is a GeoJSON Feature as served to map clients.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection wraps features, never producing a null array.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// ZoneShape is a zone row returned by the geometry store.
type ZoneShape struct {
	GeoID    string
	State    string
	County   string
	Geometry Geometry
}

// ToFeature renders the shape with the identifier mirrored under both keys
// downstream map layers look for.
func (z ZoneShape) ToFeature() Feature {
	return Feature{
		Type:     "Feature",
		Geometry: z.Geometry,
		Properties: map[string]any{
			"geoid":  z.GeoID,
			"GEOID":  z.GeoID,
			"state":  z.State,
			"county": z.County,
		},
	}
}

// ContiguityStats summarises how a batch of zones groups together.
type ContiguityStats struct {
	TotalZones       int     `json:"totalZones"`
	ContiguousGroups int     `json:"contiguousGroups"`
	LargestGroupSize int     `json:"largestGroupSize"`
	AverageGroupSize float64 `json:"averageGroupSize"`
	IsolatedZones    int     `json:"isolatedZones"`
}
