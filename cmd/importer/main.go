package main

import (
	"context"
	"flag"
	"log"
	"log/slog"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/opzones/internal/adapters/dataset"
	natsadapter "github.com/samirrijal/opzones/internal/adapters/nats"
	"github.com/samirrijal/opzones/internal/adapters/postgres"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/config"
	"github.com/samirrijal/opzones/internal/pkg/logging"
	"github.com/samirrijal/opzones/internal/workflows"
)

const cronWorkflowID = "zone-import-cron"

func main() {
	now := flag.Bool("now", false, "start a one-off import in addition to the cron schedule")
	flag.Parse()

	cfg, err := config.Load("opzones-importer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Telemetry.ServiceName, cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, imports will not be announced", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.ZoneImportWorkflow)
	w.RegisterActivity(&workflows.ImportActivities{
		Source:            dataset.New(cfg.Zones.DatasetURL, cfg.Zones.FetchTimeout),
		Zones:             postgres.NewZoneRepo(db),
		Publisher:         publisher,
		GeocodeCache:      postgres.NewGeocodeCacheRepo(db),
		SimplifyTolerance: cfg.Zones.SimplifyTolerance,
	})

	if cfg.Temporal.ImportCron != "" {
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:           cronWorkflowID,
			TaskQueue:    cfg.Temporal.TaskQueue,
			CronSchedule: cfg.Temporal.ImportCron,
		}, workflows.ZoneImportWorkflow, workflows.ZoneImportInput{})
		if err != nil {
			slog.Warn("cron import not started", "error", err)
		} else {
			slog.Info("cron import scheduled", "workflow_id", run.GetID(), "cron", cfg.Temporal.ImportCron)
		}
	}

	if *now {
		importID := uuid.NewString()
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        "zone-import-" + importID,
			TaskQueue: cfg.Temporal.TaskQueue,
		}, workflows.ZoneImportWorkflow, workflows.ZoneImportInput{ImportID: importID})
		if err != nil {
			log.Fatalf("start import: %v", err)
		}
		slog.Info("import started", "workflow_id", run.GetID(), "run_id", run.GetRunID())
	}

	slog.Info("importer worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
