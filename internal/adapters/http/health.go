package http

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Version string `json:"version"`
}

// ReadyResponse reports each dependency probe. Checks hold "ok",
// "not configured", "disconnected" or "error: <reason>".
type ReadyResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Snapshot *SnapshotSummary  `json:"snapshot,omitempty"`
}

// SnapshotSummary identifies the zone snapshot being served.
type SnapshotSummary struct {
	Version      uint64 `json:"version"`
	FeatureCount int    `json:"featureCount"`
	DataHash     string `json:"dataHash"`
}

// HealthHandler returns a basic liveness check.
func HealthHandler(deps *Dependencies) fiber.Handler {
	startedAt := time.Now()

	return func(c *fiber.Ctx) error {
		return c.JSON(HealthResponse{
			Status:  "healthy",
			Uptime:  time.Since(startedAt).Round(time.Second).String(),
			Version: apiVersion,
		})
	}
}

type probe struct {
	name string
	run  func(ctx context.Context) string
}

// readinessProbes lists the optional infrastructure checks. Their results are
// informational: point checks and shapes degrade to memory without the
// database, and the response cache and event bus are optional.
func readinessProbes(deps *Dependencies) []probe {
	return []probe{
		{"database", func(ctx context.Context) string {
			if deps.DB == nil {
				return "not configured"
			}
			return pingResult(deps.DB.Ping(ctx))
		}},
		{"cache", func(ctx context.Context) string {
			if deps.Cache == nil {
				return "not configured"
			}
			return pingResult(deps.Cache.Ping(ctx))
		}},
		{"nats", func(ctx context.Context) string {
			switch {
			case deps.NATS == nil:
				return "not configured"
			case deps.NATS.IsConnected():
				return "ok"
			default:
				return "disconnected"
			}
		}},
	}
}

func pingResult(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// ReadyHandler probes dependencies concurrently. Only a missing zone snapshot
// makes the service unready.
func ReadyHandler(deps *Dependencies) fiber.Handler {
	probes := readinessProbes(deps)

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
		defer cancel()

		resp := ReadyResponse{Status: "ready", Checks: make(map[string]string, len(probes)+1)}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range probes {
			p := p
			g.Go(func() error {
				result := p.run(gctx)
				mu.Lock()
				resp.Checks[p.name] = result
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		code := fiber.StatusOK
		if deps.Zones != nil && deps.Zones.Status().IsAvailable {
			st := deps.Zones.Status()
			resp.Checks["zones"] = "ok"
			resp.Snapshot = &SnapshotSummary{
				Version:      st.Version,
				FeatureCount: st.FeatureCount,
				DataHash:     st.DataHash,
			}
		} else {
			resp.Checks["zones"] = "no snapshot loaded"
			resp.Status = "not ready"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(resp)
	}
}
