package http

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/usecases"
)

// CheckResponse is the body of a point-in-zone check.
type CheckResponse struct {
	Latitude  float64              `json:"latitude"`
	Longitude float64              `json:"longitude"`
	IsInZone  bool                 `json:"isInZone"`
	ZoneID    string               `json:"zoneId,omitempty"`
	Method    domain.MatchMethod   `json:"method"`
	Cache     domain.CacheMetadata `json:"cache"`
}

// ShapesResponse is a viewport FeatureCollection with query metadata.
type ShapesResponse struct {
	Type       string           `json:"type"`
	Features   []domain.Feature `json:"features"`
	ShapeCount int              `json:"shapeCount"`
	QueryTime  int64            `json:"queryTime"` // milliseconds
	Zoom       int              `json:"zoom"`
	Detail     string           `json:"detail"`
	Source     string           `json:"source"`
}

// BatchShapesRequest is the body of POST /v1/zones/shapes/batch.
type BatchShapesRequest struct {
	ZoneIDs []string `json:"zone_ids"`
}

// BatchShapesResponse is a batch FeatureCollection with contiguity stats.
type BatchShapesResponse struct {
	Type           string                 `json:"type"`
	Features       []domain.Feature       `json:"features"`
	Stats          domain.ContiguityStats `json:"stats"`
	RequestedZones int                    `json:"requestedZones"`
	FoundZones     int                    `json:"foundZones"`
	Source         string                 `json:"source"`
}

// StatusResponse reports the zone snapshot and spatial index state.
type StatusResponse struct {
	domain.CacheStatus
	IndexAvailable bool `json:"indexAvailable"`
}

// parseCoord parses a required, finite float query parameter within ±limit.
func parseCoord(c *fiber.Ctx, name string, limit float64) (float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, errors.New(name + " is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New(name + " must be a number")
	}
	if v < -limit || v > limit {
		return 0, errors.New(name + " must be between -" + strconv.Itoa(int(limit)) + " and " + strconv.Itoa(int(limit)))
	}
	return v, nil
}

// CheckZoneHandler reports whether a point lies inside an opportunity zone.
func CheckZoneHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lat, err := parseCoord(c, "lat", 90)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		lon, err := parseCoord(c, "lon", 180)
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		meta := deps.Zones.Metadata()
		etag := `"` + strconv.FormatFloat(lat, 'f', -1, 64) + "," +
			strconv.FormatFloat(lon, 'f', -1, 64) + "-" +
			strconv.FormatUint(meta.Version, 10) + `"`
		if notModified(c, etag) {
			return nil
		}

		match := deps.Matcher.CheckPoint(c.UserContext(), lat, lon)
		return c.JSON(CheckResponse{
			Latitude:  lat,
			Longitude: lon,
			IsInZone:  match.IsInZone,
			ZoneID:    match.ZoneID,
			Method:    match.Method,
			Cache:     meta,
		})
	}
}

// GeocodeHandler resolves a free-form address to coordinates.
func GeocodeHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := c.Query("address")
		if strings.TrimSpace(address) == "" {
			return errBadRequest(c, "address query parameter is required")
		}
		if len(address) > 500 {
			return errBadRequest(c, "address too long (max 500 characters)")
		}

		res, err := deps.Geocoder.GeocodeAddress(c.UserContext(), address)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(res)
	}
}

// ShapesInBoundsHandler returns zone polygons for a map viewport.
func ShapesInBoundsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var b domain.Bounds
		for _, p := range []struct {
			name  string
			limit float64
			dst   *float64
		}{
			{"north", 90, &b.North},
			{"south", 90, &b.South},
			{"east", 180, &b.East},
			{"west", 180, &b.West},
		} {
			v, err := parseCoord(c, p.name, p.limit)
			if err != nil {
				return errBadRequest(c, err.Error())
			}
			*p.dst = v
		}

		zoom := usecases.MinZoom
		if raw := c.Query("zoom"); raw != "" {
			z, err := strconv.ParseFloat(raw, 64)
			if err != nil || math.IsNaN(z) || math.IsInf(z, 0) {
				return errBadRequest(c, "zoom must be a number")
			}
			zoom = int(math.Round(math.Max(math.Min(z, usecases.MaxZoom), usecases.MinZoom)))
		}

		res, err := deps.Shapes.ShapesInBounds(c.UserContext(), b, zoom)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(ShapesResponse{
			Type:       res.Collection.Type,
			Features:   res.Collection.Features,
			ShapeCount: res.ShapeCount,
			QueryTime:  res.QueryTime.Milliseconds(),
			Zoom:       res.Zoom,
			Detail:     res.Detail.String(),
			Source:     res.Source,
		})
	}
}

// BatchShapesHandler returns the requested zones with contiguity styling.
func BatchShapesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req BatchShapesRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "body must be {\"zone_ids\": [string, ...]}")
		}

		res, err := deps.Shapes.ShapesByZoneIDs(c.UserContext(), req.ZoneIDs)
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(BatchShapesResponse{
			Type:           res.Collection.Type,
			Features:       res.Collection.Features,
			Stats:          res.Stats,
			RequestedZones: res.RequestedZones,
			FoundZones:     res.FoundZones,
			Source:         res.Source,
		})
	}
}

// ZoneStatusHandler reports snapshot freshness and index availability.
func ZoneStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(StatusResponse{
			CacheStatus:    deps.Zones.Status(),
			IndexAvailable: deps.Matcher.IndexAvailable(c.UserContext()),
		})
	}
}

// RefreshZonesHandler reloads the zone dataset now.
func RefreshZonesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := deps.Zones.ForceRefresh(c.UserContext()); err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(deps.Zones.Status())
	}
}

// ResetIndexHandler forgets the memoized spatial index probe result.
func ResetIndexHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		deps.Matcher.ResetAvailability()
		return c.JSON(fiber.Map{
			"indexAvailable": deps.Matcher.IndexAvailable(c.UserContext()),
		})
	}
}

// GeocodeStatsHandler returns geocode cache row counts.
func GeocodeStatsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, err := deps.Geocoder.CacheStats(c.UserContext())
		if err != nil {
			return errFromDomain(c, err)
		}
		return c.JSON(st)
	}
}
