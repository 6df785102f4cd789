package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/opzones/internal/pkg/metrics"
)

const apiVersion = "1.0.0"

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	setupMiddleware(app, deps)

	// Health & readiness, no timeout
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	bounded := func(h fiber.Handler) fiber.Handler {
		return timeout.NewWithContext(h, deps.requestTimeout())
	}

	zones := app.Group("/v1/zones")
	zones.Get("/check", bounded(CheckZoneHandler(deps)))
	zones.Get("/shapes", bounded(ShapesInBoundsHandler(deps)))
	zones.Post("/shapes/batch", bounded(BatchShapesHandler(deps)))
	zones.Get("/status", bounded(ZoneStatusHandler(deps)))
	zones.Post("/index/reset", bounded(ResetIndexHandler(deps)))
	// Refresh waits on the shared reload, which has its own fetch deadline.
	zones.Post("/refresh", RefreshZonesHandler(deps))

	geocode := app.Group("/v1/geocode")
	geocode.Get("", bounded(GeocodeHandler(deps)))
	geocode.Get("/stats", bounded(GeocodeStatsHandler(deps)))

	app.Post("/graphql", bounded(GraphQLHandler(deps)))

	SetupDocs(app, deps.openAPIPath())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps)))
}

// setupMiddleware installs the shared chain: compression, request IDs and
// request-scoped logging, per-IP rate limiting, security headers and
// conditional caching.
func setupMiddleware(app *fiber.App, deps *Dependencies) {
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	app.Use(limiter.New(limiter.Config{
		Max:        deps.rateLimit(),
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// Probes and scrapes are never throttled.
			switch c.Path() {
			case "/v1/health", "/v1/ready", "/metrics":
				return true
			}
			return false
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, "60")
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", apiVersion)
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
}
