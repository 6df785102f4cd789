package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/opzones/internal/adapters/http"
)

// findOpenAPIDoc locates api/openapi.yaml by walking up from the test directory.
func findOpenAPIDoc(t *testing.T) string {
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, "api", "openapi.yaml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find api/openapi.yaml")
	return ""
}

func loadOpenAPIDoc(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromFile(findOpenAPIDoc(t))
	if err != nil {
		t.Fatalf("failed to parse OpenAPI document: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI document validation failed: %v", err)
	}
	return doc
}

func TestOpenAPI_Operations(t *testing.T) {
	doc := loadOpenAPIDoc(t)

	tests := []struct {
		method string
		path   string
		codes  []string
	}{
		{"GET", "/v1/health", []string{"200"}},
		{"GET", "/v1/ready", []string{"200", "503"}},
		{"GET", "/v1/zones/check", []string{"200", "304", "400"}},
		{"GET", "/v1/zones/shapes", []string{"200", "400"}},
		{"POST", "/v1/zones/shapes/batch", []string{"200", "400"}},
		{"GET", "/v1/zones/status", []string{"200"}},
		{"POST", "/v1/zones/refresh", []string{"200", "502"}},
		{"POST", "/v1/zones/index/reset", []string{"200"}},
		{"GET", "/v1/geocode", []string{"200", "400", "404", "429", "502"}},
		{"GET", "/v1/geocode/stats", []string{"200"}},
		{"POST", "/graphql", []string{"200"}},
	}

	for _, tt := range tests {
		item := doc.Paths.Find(tt.path)
		if item == nil {
			t.Errorf("path %s not documented", tt.path)
			continue
		}
		op := item.GetOperation(tt.method)
		if op == nil {
			t.Errorf("%s %s not documented", tt.method, tt.path)
			continue
		}
		for _, code := range tt.codes {
			if op.Responses.Value(code) == nil {
				t.Errorf("%s %s: response %s not documented", tt.method, tt.path, code)
			}
		}
	}

	for _, schema := range []string{
		"CheckResponse", "CacheMetadata", "CacheStatus", "Feature",
		"ShapesResponse", "BatchShapesRequest", "BatchShapesResponse",
		"ContiguityStats", "GeocodeResult", "GeocodeCacheStats", "APIError",
	} {
		if doc.Components.Schemas[schema] == nil {
			t.Errorf("schema %s not found", schema)
		}
	}
}

// TestOpenAPI_CoversRoutes fails when a registered API route is missing from
// the document.
func TestOpenAPI_CoversRoutes(t *testing.T) {
	doc := loadOpenAPIDoc(t)
	deps, _ := makeDeps(t)
	app := setupApp(deps)

	for _, r := range app.GetRoutes(true) {
		if r.Method != fiber.MethodGet && r.Method != fiber.MethodPost {
			continue
		}
		if !strings.HasPrefix(r.Path, "/v1/") && r.Path != "/graphql" {
			continue
		}
		item := doc.Paths.Find(r.Path)
		if item == nil || item.GetOperation(r.Method) == nil {
			t.Errorf("route %s %s is not documented", r.Method, r.Path)
		}
	}
}

func TestOpenAPI_Info(t *testing.T) {
	doc := loadOpenAPIDoc(t)

	if doc.Info.Title != "Opportunity Zones API" {
		t.Errorf("expected title 'Opportunity Zones API', got %q", doc.Info.Title)
	}
	if doc.Info.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", doc.Info.Version)
	}
	if doc.Info.Description == "" {
		t.Error("expected non-empty description")
	}
	if len(doc.Servers) == 0 {
		t.Error("expected at least one server")
	}
}

func TestDocs_ServesDocument(t *testing.T) {
	app := fiber.New()
	handler.SetupDocs(app, findOpenAPIDoc(t))

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/openapi.json", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(body.OpenAPI, "3.") || body.Info.Title != "Opportunity Zones API" {
		t.Errorf("unexpected document: %+v", body)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/docs/openapi.yaml", nil), -1)
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "application/yaml" {
		t.Errorf("expected yaml document, got %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestDocs_MissingDocument(t *testing.T) {
	app := fiber.New()
	handler.SetupDocs(app, filepath.Join(t.TempDir(), "missing.yaml"))

	resp, _ := app.Test(httptest.NewRequest("GET", "/docs/openapi.json", nil), -1)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if apiErr := decodeAPIError(t, resp.Body); apiErr.Code != "not_found" {
		t.Errorf("expected not_found code, got %q", apiErr.Code)
	}
}
