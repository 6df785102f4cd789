package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ZoneImportWorkflowName is the registered name used by the cron schedule.
const ZoneImportWorkflowName = "ZoneImportWorkflow"

// ZoneImportInput is the input for the zone import workflow. An empty
// ImportID is replaced by the run ID.
type ZoneImportInput struct {
	ImportID string
}

// ZoneImportResult is returned by the zone import workflow.
type ZoneImportResult struct {
	ImportID       string
	DataHash       string
	FeatureCount   int
	Skipped        int
	Duplicates     int
	PrunedGeocodes int64
}

// ZoneImportWorkflow loads the bulk dataset into the geometry store,
// announces it so API instances refresh their snapshots, then prunes expired
// geocode cache rows. A failed announcement or prune does not fail the import.
func ZoneImportWorkflow(ctx workflow.Context, input ZoneImportInput) (ZoneImportResult, error) {
	logger := workflow.GetLogger(ctx)

	importID := input.ImportID
	if importID == "" {
		importID = workflow.GetInfo(ctx).WorkflowExecution.RunID
	}
	result := ZoneImportResult{ImportID: importID}
	logger.Info("Starting zone import", "importID", importID)

	loadCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	var loaded LoadResult
	if err := workflow.ExecuteActivity(loadCtx, "LoadZones").Get(ctx, &loaded); err != nil {
		return result, err
	}
	result.DataHash = loaded.DataHash
	result.FeatureCount = loaded.FeatureCount
	result.Skipped = loaded.Skipped
	result.Duplicates = loaded.Duplicates

	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})

	if err := workflow.ExecuteActivity(shortCtx, "AnnounceDataset", importID, loaded).Get(ctx, nil); err != nil {
		logger.Warn("dataset announcement failed, API instances will pick it up on their next scheduled refresh", "error", err)
	}

	if err := workflow.ExecuteActivity(shortCtx, "PruneGeocodeCache").Get(ctx, &result.PrunedGeocodes); err != nil {
		logger.Warn("geocode cache prune failed", "error", err)
	}

	logger.Info("Zone import finished", "importID", importID, "features", result.FeatureCount)
	return result, nil
}
