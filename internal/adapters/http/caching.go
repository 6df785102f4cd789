package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type cacheRule struct {
	path   string
	prefix bool
	value  string
}

// cacheRules are matched in order. Point checks can be cached for minutes
// because their ETag carries the snapshot version.
var cacheRules = []cacheRule{
	{path: "/v1/health", value: "public, max-age=10"},
	{path: "/v1/ready", value: "public, max-age=10"},
	{path: "/metrics", value: "no-cache"},
	{path: "/v1/zones/status", value: "no-cache"},
	{path: "/v1/geocode/stats", value: "no-cache"},
	{path: "/v1/zones/check", value: "public, max-age=300"},
	{path: "/v1/zones/shapes", prefix: true, value: "public, max-age=600"},
	{path: "/v1/geocode", value: "public, max-age=86400"},
	{path: "/v1/", prefix: true, value: "public, max-age=60"},
}

func cacheControlFor(path string) string {
	for _, r := range cacheRules {
		if path == r.path || (r.prefix && strings.HasPrefix(path, r.path)) {
			return r.value
		}
	}
	return ""
}

// CachingMiddleware fills in Cache-Control for GET responses the handler
// left unset. Error responses are never stored.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet || c.GetRespHeader(fiber.HeaderCacheControl) != "" {
			return err
		}
		if c.Response().StatusCode() >= 400 {
			c.Set(fiber.HeaderCacheControl, "no-store")
			return err
		}
		if v := cacheControlFor(c.Path()); v != "" {
			c.Set(fiber.HeaderCacheControl, v)
			c.Vary(fiber.HeaderAcceptEncoding)
		}
		return err
	}
}
