package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/opzones/internal/adapters/dataset"
	"github.com/samirrijal/opzones/internal/adapters/http"
	natsadapter "github.com/samirrijal/opzones/internal/adapters/nats"
	"github.com/samirrijal/opzones/internal/adapters/nominatim"
	"github.com/samirrijal/opzones/internal/adapters/postgres"
	"github.com/samirrijal/opzones/internal/adapters/valkey"
	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/core/usecases"
	"github.com/samirrijal/opzones/internal/pkg/config"
	"github.com/samirrijal/opzones/internal/pkg/logging"
	"github.com/samirrijal/opzones/internal/pkg/metrics"
	"github.com/samirrijal/opzones/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("opzones-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database. Point checks and shapes fall back to the in-memory snapshot
	// without it, so a failed connection is not fatal.
	var (
		store        ports.ZoneGeometryStore
		geocodeCache ports.GeocodeCacheRepository
	)
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		slog.Warn("database unavailable, serving from memory only", "error", err)
		db = nil
	} else {
		defer db.Close()
		store = postgres.NewZoneRepo(db)
		geocodeCache = postgres.NewGeocodeCacheRepo(db)
		go reportPoolStats(ctx, db)
	}

	// Cache
	var responseCache ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.LocalTTL)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		responseCache = cache
	}

	// NATS
	var opts []usecases.ZoneCacheOption
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable", "error", err)
	} else {
		defer pub.Close()
		opts = append(opts, usecases.WithPublisher(pub))
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
		natsConn = nil
	} else {
		defer natsConn.Close()
	}

	// Zone snapshot
	zones := usecases.NewZoneCache(
		dataset.New(cfg.Zones.DatasetURL, cfg.Zones.FetchTimeout),
		usecases.ZoneCacheConfig{
			RefreshInterval:   cfg.Zones.RefreshInterval,
			FetchTimeout:      cfg.Zones.FetchTimeout,
			SimplifyTolerance: cfg.Zones.SimplifyTolerance,
		},
		opts...,
	)
	if err := zones.Init(ctx); err != nil {
		slog.Error("initial zone load failed, starting with an empty snapshot", "error", err)
	}
	zones.Start(ctx)
	defer zones.Shutdown()

	// Refresh when the importer announces a new dataset.
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("dataset subscription unavailable", "error", err)
	} else {
		defer sub.Close()
		err := sub.SubscribeDatasetUpdated(ctx, func(ctx context.Context, ev domain.DatasetUpdated) error {
			slog.Info("dataset update announced", "import_id", ev.ImportID, "hash", ev.DataHash)
			_, err := zones.ForceRefresh(ctx)
			return err
		})
		if err != nil {
			slog.Warn("subscribe dataset updates", "error", err)
		}
	}

	matcher := usecases.NewSpatialMatcher(store, zones, cfg.Index.QueryTimeout)
	slog.Info("spatial index", "available", matcher.IndexAvailable(ctx))

	deps := &http.Dependencies{
		Zones:   zones,
		Matcher: matcher,
		Shapes: usecases.NewShapeService(store, zones, responseCache, usecases.ShapeServiceConfig{
			DetailZoomThreshold: cfg.Shapes.DetailZoomThreshold,
			QueryTimeout:        cfg.Shapes.QueryTimeout,
			CacheTTL:            cfg.Shapes.CacheTTL,
		}),
		Geocoder: usecases.NewGeocodingService(
			nominatim.NewClient(cfg.Geocoder.BaseURL, cfg.Geocoder.UserAgent, cfg.Geocoder.Timeout),
			geocodeCache,
			usecases.GeocodingConfig{
				CacheTTL:          cfg.Geocoder.CacheTTL,
				NegativeTTL:       cfg.Geocoder.NegativeTTL,
				RequestsPerSecond: cfg.Geocoder.RequestsPerSecond,
				Burst:             cfg.Geocoder.Burst,
				UpstreamTimeout:   cfg.Geocoder.Timeout,
				MemoryEntries:     cfg.Geocoder.MemoryEntries,
			},
		),
		NATS:  natsConn,
		DB:    db,
		Cache: cache,

		RequestTimeout:     cfg.Server.RequestTimeout,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		OpenAPIPath:        cfg.Server.OpenAPIPath,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    256 * 1024,
		AppName:      "Opportunity Zones API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "ETag, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	cancel()

	slog.Info("server stopped")
}

func reportPoolStats(ctx context.Context, db *postgres.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateDBPoolMetrics(db.Pool.Stat())
		}
	}
}
