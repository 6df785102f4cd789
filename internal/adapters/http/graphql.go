package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/usecases"
)

// jsonScalar passes GeoJSON geometry and property maps through untouched.
var jsonScalar = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "Arbitrary JSON value",
	Serialize:   func(value interface{}) interface{} { return value },
	ParseValue:  func(value interface{}) interface{} { return value },
	ParseLiteral: func(valueAST ast.Value) interface{} {
		return valueAST.GetValue()
	},
})

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	cacheMetaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CacheMetadata",
		Fields: graphql.Fields{
			"version":      &graphql.Field{Type: graphql.Int},
			"lastUpdated":  &graphql.Field{Type: graphql.DateTime},
			"featureCount": &graphql.Field{Type: graphql.Int},
		},
	})

	checkType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ZoneCheck",
		Fields: graphql.Fields{
			"latitude":  &graphql.Field{Type: graphql.Float},
			"longitude": &graphql.Field{Type: graphql.Float},
			"isInZone":  &graphql.Field{Type: graphql.Boolean},
			"zoneId":    &graphql.Field{Type: graphql.String},
			"method":    &graphql.Field{Type: graphql.String},
			"cache":     &graphql.Field{Type: cacheMetaType},
		},
	})

	featureType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Feature",
		Fields: graphql.Fields{
			"type":       &graphql.Field{Type: graphql.String},
			"geometry":   &graphql.Field{Type: jsonScalar},
			"properties": &graphql.Field{Type: jsonScalar},
		},
	})

	viewportType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ViewportShapes",
		Fields: graphql.Fields{
			"type":       &graphql.Field{Type: graphql.String},
			"features":   &graphql.Field{Type: graphql.NewList(featureType)},
			"shapeCount": &graphql.Field{Type: graphql.Int},
			"queryTime":  &graphql.Field{Type: graphql.Int},
			"zoom":       &graphql.Field{Type: graphql.Int},
			"detail":     &graphql.Field{Type: graphql.String},
			"source":     &graphql.Field{Type: graphql.String},
		},
	})

	statsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ContiguityStats",
		Fields: graphql.Fields{
			"totalZones":       &graphql.Field{Type: graphql.Int},
			"contiguousGroups": &graphql.Field{Type: graphql.Int},
			"largestGroupSize": &graphql.Field{Type: graphql.Int},
			"averageGroupSize": &graphql.Field{Type: graphql.Float},
			"isolatedZones":    &graphql.Field{Type: graphql.Int},
		},
	})

	batchType := graphql.NewObject(graphql.ObjectConfig{
		Name: "BatchShapes",
		Fields: graphql.Fields{
			"type":           &graphql.Field{Type: graphql.String},
			"features":       &graphql.Field{Type: graphql.NewList(featureType)},
			"stats":          &graphql.Field{Type: statsType},
			"requestedZones": &graphql.Field{Type: graphql.Int},
			"foundZones":     &graphql.Field{Type: graphql.Int},
			"source":         &graphql.Field{Type: graphql.String},
		},
	})

	statusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "ZoneStatus",
		Fields: graphql.Fields{
			"isAvailable":    &graphql.Field{Type: graphql.Boolean},
			"lastUpdated":    &graphql.Field{Type: graphql.DateTime},
			"nextRefreshDue": &graphql.Field{Type: graphql.DateTime},
			"featureCount":   &graphql.Field{Type: graphql.Int},
			"version":        &graphql.Field{Type: graphql.Int},
			"dataHash":       &graphql.Field{Type: graphql.String},
			"indexAvailable": &graphql.Field{Type: graphql.Boolean},
		},
	})

	geocodeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeocodeResult",
		Fields: graphql.Fields{
			"latitude":    &graphql.Field{Type: graphql.Float},
			"longitude":   &graphql.Field{Type: graphql.Float},
			"displayName": &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"check": &graphql.Field{
				Type:        checkType,
				Description: "Check whether a point lies in an opportunity zone",
				Args: graphql.FieldConfigArgument{
					"lat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					lat := p.Args["lat"].(float64)
					lon := p.Args["lon"].(float64)
					if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
						return nil, errors.New("lat must be within ±90 and lon within ±180")
					}
					meta := deps.Zones.Metadata()
					m := deps.Matcher.CheckPoint(p.Context, lat, lon)
					return CheckResponse{
						Latitude:  lat,
						Longitude: lon,
						IsInZone:  m.IsInZone,
						ZoneID:    m.ZoneID,
						Method:    m.Method,
						Cache:     meta,
					}, nil
				},
			},
			"shapesInBounds": &graphql.Field{
				Type:        viewportType,
				Description: "Zone polygons intersecting a map viewport",
				Args: graphql.FieldConfigArgument{
					"north": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"south": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"east":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"west":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"zoom":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: usecases.MinZoom},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					b := domain.Bounds{
						North: p.Args["north"].(float64),
						South: p.Args["south"].(float64),
						East:  p.Args["east"].(float64),
						West:  p.Args["west"].(float64),
					}
					res, err := deps.Shapes.ShapesInBounds(p.Context, b, p.Args["zoom"].(int))
					if err != nil {
						return nil, err
					}
					return ShapesResponse{
						Type:       res.Collection.Type,
						Features:   res.Collection.Features,
						ShapeCount: res.ShapeCount,
						QueryTime:  res.QueryTime.Milliseconds(),
						Zoom:       res.Zoom,
						Detail:     res.Detail.String(),
						Source:     res.Source,
					}, nil
				},
			},
			"zoneShapes": &graphql.Field{
				Type:        batchType,
				Description: "Zones by GEOID with contiguity styling",
				Args: graphql.FieldConfigArgument{
					"ids": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String)))},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					raw := p.Args["ids"].([]interface{})
					ids := make([]string, 0, len(raw))
					for _, v := range raw {
						ids = append(ids, v.(string))
					}
					res, err := deps.Shapes.ShapesByZoneIDs(p.Context, ids)
					if err != nil {
						return nil, err
					}
					return BatchShapesResponse{
						Type:           res.Collection.Type,
						Features:       res.Collection.Features,
						Stats:          res.Stats,
						RequestedZones: res.RequestedZones,
						FoundZones:     res.FoundZones,
						Source:         res.Source,
					}, nil
				},
			},
			"geocode": &graphql.Field{
				Type:        geocodeType,
				Description: "Resolve an address to coordinates",
				Args: graphql.FieldConfigArgument{
					"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Geocoder.GeocodeAddress(p.Context, p.Args["address"].(string))
				},
			},
			"status": &graphql.Field{
				Type:        statusType,
				Description: "Zone snapshot freshness",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					st := deps.Zones.Status()
					return map[string]interface{}{
						"isAvailable":    st.IsAvailable,
						"lastUpdated":    st.LastUpdated,
						"nextRefreshDue": st.NextRefreshDue,
						"featureCount":   st.FeatureCount,
						"version":        st.Version,
						"dataHash":       st.DataHash,
						"indexAvailable": deps.Matcher.IndexAvailable(p.Context),
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
