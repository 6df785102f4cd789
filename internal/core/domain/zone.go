package domain

import (
	"sort"
	"time"

	"github.com/dhconnelly/rtreego"
)

// ZoneFeature is one Qualified Opportunity Zone tract. It is never mutated
// after it has been placed in a Snapshot.
type ZoneFeature struct {
	GeoID      string   `json:"geoid"`
	State      string   `json:"state"`
	County     string   `json:"county"`
	Original   Geometry `json:"original_geometry"`
	Simplified Geometry `json:"simplified_geometry"`
	BBox       BBox     `json:"bbox"`
}

// GeometryDetail selects which geometry variant a query serves.
type GeometryDetail int

const (
	DetailSimplified GeometryDetail = iota
	DetailOriginal
)

func (d GeometryDetail) String() string {
	if d == DetailOriginal {
		return "original"
	}
	return "simplified"
}

// Geometry returns the variant for the requested detail level.
func (f *ZoneFeature) Geometry(detail GeometryDetail) Geometry {
	if detail == DetailSimplified && !f.Simplified.IsEmpty() {
		return f.Simplified
	}
	return f.Original
}

// Snapshot is one immutable, versioned copy of the full zone dataset.
type Snapshot struct {
	Features       []ZoneFeature
	Version        uint64
	DataHash       string
	LoadedAt       time.Time
	NextRefreshDue time.Time

	byID  map[string]int
	boxes *rtreego.Rtree
}

// bboxEps widens index queries so boxes that only touch are still returned;
// callers re-check candidates exactly.
const bboxEps = 1e-9

// indexedBox is a feature's bounding box as stored in the R-tree.
type indexedBox struct {
	rect rtreego.Rect
	pos  int
}

func (b indexedBox) Bounds() rtreego.Rect { return b.rect }

func boxRect(minLon, minLat, maxLon, maxLat float64) (rtreego.Rect, error) {
	return rtreego.NewRectFromPoints(
		rtreego.Point{minLon - bboxEps, minLat - bboxEps},
		rtreego.Point{maxLon + bboxEps, maxLat + bboxEps},
	)
}

// NewSnapshot indexes features by geoid and by bounding box. Features must
// already be unique.
func NewSnapshot(features []ZoneFeature, version uint64, hash string, loadedAt, nextDue time.Time) *Snapshot {
	idx := make(map[string]int, len(features))
	boxes := make([]rtreego.Spatial, 0, len(features))
	for i := range features {
		f := &features[i]
		idx[f.GeoID] = i
		if f.BBox.MinLon > f.BBox.MaxLon || f.BBox.MinLat > f.BBox.MaxLat {
			continue
		}
		r, err := boxRect(f.BBox.MinLon, f.BBox.MinLat, f.BBox.MaxLon, f.BBox.MaxLat)
		if err != nil {
			continue
		}
		boxes = append(boxes, indexedBox{rect: r, pos: i})
	}
	return &Snapshot{
		Features:       features,
		Version:        version,
		DataHash:       hash,
		LoadedAt:       loadedAt,
		NextRefreshDue: nextDue,
		byID:           idx,
		boxes:          rtreego.NewTree(2, 25, 50, boxes...),
	}
}

// Rescheduled returns a copy sharing the same features, version and hash but
// with new timestamps. Used when a refresh finds unchanged upstream data.
func (s *Snapshot) Rescheduled(loadedAt, nextDue time.Time) *Snapshot {
	return &Snapshot{
		Features:       s.Features,
		Version:        s.Version,
		DataHash:       s.DataHash,
		LoadedAt:       loadedAt,
		NextRefreshDue: nextDue,
		byID:           s.byID,
		boxes:          s.boxes,
	}
}

// search returns features whose indexed box meets r, in dataset order.
func (s *Snapshot) search(r rtreego.Rect) []*ZoneFeature {
	if s == nil || s.boxes == nil {
		return nil
	}
	hits := s.boxes.SearchIntersect(r)
	pos := make([]int, 0, len(hits))
	for _, h := range hits {
		pos = append(pos, h.(indexedBox).pos)
	}
	sort.Ints(pos)
	out := make([]*ZoneFeature, len(pos))
	for i, p := range pos {
		out[i] = &s.Features[p]
	}
	return out
}

// Containing returns the features whose bounding box contains the point, in
// dataset order.
func (s *Snapshot) Containing(lat, lon float64) []*ZoneFeature {
	r, err := boxRect(lon, lat, lon, lat)
	if err != nil {
		return nil
	}
	var out []*ZoneFeature
	for _, f := range s.search(r) {
		if f.BBox.Contains(lat, lon) {
			out = append(out, f)
		}
	}
	return out
}

// InBounds returns the features whose bounding box meets the viewport, in
// dataset order.
func (s *Snapshot) InBounds(b Bounds) []*ZoneFeature {
	r, err := boxRect(b.West, b.South, b.East, b.North)
	if err != nil {
		return nil
	}
	var out []*ZoneFeature
	for _, f := range s.search(r) {
		if f.BBox.Intersects(b) {
			out = append(out, f)
		}
	}
	return out
}

// Lookup returns the feature with the given geoid.
func (s *Snapshot) Lookup(geoid string) (*ZoneFeature, bool) {
	i, ok := s.byID[geoid]
	if !ok {
		return nil, false
	}
	return &s.Features[i], true
}

// Len returns the number of features.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Features)
}

// CacheMetadata is the snapshot summary attached to check responses.
type CacheMetadata struct {
	Version      uint64    `json:"version"`
	LastUpdated  time.Time `json:"lastUpdated"`
	FeatureCount int       `json:"featureCount"`
}

// CacheStatus is the status/refresh view of the zone cache.
type CacheStatus struct {
	IsAvailable    bool      `json:"isAvailable"`
	LastUpdated    time.Time `json:"lastUpdated"`
	NextRefreshDue time.Time `json:"nextRefreshDue"`
	FeatureCount   int       `json:"featureCount"`
	Version        uint64    `json:"version"`
	DataHash       string    `json:"dataHash"`
}

// MatchMethod labels how a point check was answered.
type MatchMethod string

const (
	MethodIndex    MatchMethod = "index"
	MethodFallback MatchMethod = "fallback"
)

// PointMatch is the result of a point-in-zone check.
type PointMatch struct {
	IsInZone bool        `json:"isInZone"`
	ZoneID   string      `json:"zoneId,omitempty"`
	Method   MatchMethod `json:"method"`
}

// DatasetUpdated is announced after the importer has loaded a dataset into
// the geometry store.
type DatasetUpdated struct {
	ImportID     string    `json:"import_id"`
	DataHash     string    `json:"data_hash"`
	FeatureCount int       `json:"feature_count"`
	ImportedAt   time.Time `json:"imported_at"`
}
