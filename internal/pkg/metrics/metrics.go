package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opzones",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opzones",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Zone cache metrics
	ZoneRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "zone_cache",
		Name:      "refreshes_total",
		Help:      "Zone snapshot refresh attempts by outcome",
	}, []string{"result"})

	ZoneRefreshesCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "zone_cache",
		Name:      "refreshes_coalesced_total",
		Help:      "Refresh requests that joined an in-flight refresh instead of fetching",
	})

	ZoneRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "opzones",
		Subsystem: "zone_cache",
		Name:      "refresh_duration_seconds",
		Help:      "Duration of dataset fetch, parse and swap",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	ZoneSnapshotFeatures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "zone_cache",
		Name:      "snapshot_features",
		Help:      "Number of zone features in the current snapshot",
	})

	ZoneSnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "zone_cache",
		Name:      "snapshot_version",
		Help:      "Version of the current zone snapshot",
	})

	// Query metrics
	PointChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "match",
		Name:      "point_checks_total",
		Help:      "Point-in-zone checks by answering method",
	}, []string{"method"})

	IndexFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "match",
		Name:      "index_failures_total",
		Help:      "Spatial index calls that failed and degraded to the fallback path",
	})

	ShapeQueries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "opzones",
		Subsystem: "shapes",
		Name:      "query_duration_seconds",
		Help:      "Shape query latency by kind and source",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"kind", "source"})

	// Geocoding metrics
	GeocodeUpstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "geocode",
		Name:      "upstream_calls_total",
		Help:      "Calls to the upstream geocoder by outcome",
	}, []string{"result"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "opzones",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "opzones",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from pgxpool.Stat.
// The argument is untyped so this package does not import pgx.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
