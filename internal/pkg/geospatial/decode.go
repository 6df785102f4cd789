package geospatial

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samirrijal/opzones/internal/core/domain"
)

type rawCollection struct {
	Type     string       `json:"type"`
	Features []rawFeature `json:"features"`
}

type rawFeature struct {
	Type               string          `json:"type"`
	Geometry           json.RawMessage `json:"geometry"`
	SimplifiedGeometry json.RawMessage `json:"simplified_geometry,omitempty"`
	Properties         map[string]any  `json:"properties"`
}

// DecodeReport describes rows dropped while decoding a dataset.
type DecodeReport struct {
	Duplicates []string
	Skipped    int
}

var (
	idKeys     = []string{"GEOID", "geoid", "GEOID10", "GEOID20", "zone_id"}
	stateKeys  = []string{"state", "STATE", "STATE_NAME", "StateName"}
	countyKeys = []string{"county", "COUNTY", "COUNTY_NAME", "CountyName"}
)

// DecodeZones parses a GeoJSON FeatureCollection of opportunity-zone tracts.
// Features without an identifier or with non-polygonal geometry are skipped;
// repeated identifiers keep their first occurrence. When a feature carries no
// simplified geometry one is derived at tolerance.
func DecodeZones(payload []byte, tolerance float64) ([]domain.ZoneFeature, DecodeReport, error) {
	var report DecodeReport
	var fc rawCollection
	if err := json.Unmarshal(payload, &fc); err != nil {
		return nil, report, fmt.Errorf("decode feature collection: %w", err)
	}
	if !strings.EqualFold(fc.Type, "FeatureCollection") {
		return nil, report, fmt.Errorf("decode feature collection: unexpected type %q", fc.Type)
	}

	seen := make(map[string]struct{}, len(fc.Features))
	out := make([]domain.ZoneFeature, 0, len(fc.Features))
	for _, rf := range fc.Features {
		id := firstString(rf.Properties, idKeys)
		if id == "" || len(rf.Geometry) == 0 {
			report.Skipped++
			continue
		}
		var geom domain.Geometry
		if err := json.Unmarshal(rf.Geometry, &geom); err != nil || geom.IsEmpty() {
			report.Skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			report.Duplicates = append(report.Duplicates, id)
			continue
		}
		seen[id] = struct{}{}

		var simplified domain.Geometry
		if len(rf.SimplifiedGeometry) > 0 {
			if err := json.Unmarshal(rf.SimplifiedGeometry, &simplified); err != nil {
				simplified = domain.Geometry{}
			}
		}
		if simplified.IsEmpty() {
			simplified = Simplify(geom, tolerance)
		}

		out = append(out, domain.ZoneFeature{
			GeoID:      id,
			State:      firstString(rf.Properties, stateKeys),
			County:     firstString(rf.Properties, countyKeys),
			Original:   geom,
			Simplified: simplified,
			BBox:       ComputeBBox(geom),
		})
	}
	return out, report, nil
}

func firstString(props map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := props[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
