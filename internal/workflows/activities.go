package workflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/opzones/internal/core/domain"
	"github.com/samirrijal/opzones/internal/core/ports"
	"github.com/samirrijal/opzones/internal/pkg/geospatial"
)

// LoadResult summarises one dataset load into the geometry store.
type LoadResult struct {
	DataHash     string
	FeatureCount int
	Skipped      int
	Duplicates   int
}

// ImportActivities holds the activity implementations for the zone import workflow.
type ImportActivities struct {
	Source            ports.DatasetSource
	Zones             ports.ZoneWriter
	Publisher         ports.EventPublisher
	GeocodeCache      ports.GeocodeCachePruner
	SimplifyTolerance float64
	Now               func() time.Time
}

func (a *ImportActivities) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// LoadZones downloads the dataset, derives simplified geometry and replaces
// the stored zones in one transaction. An empty or unparseable dataset is not
// retried.
func (a *ImportActivities) LoadZones(ctx context.Context) (LoadResult, error) {
	logger := activity.GetLogger(ctx)

	payload, err := a.Source.Fetch(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("fetch dataset: %w", err)
	}
	sum := sha256.Sum256(payload)
	res := LoadResult{DataHash: hex.EncodeToString(sum[:])}

	features, report, err := geospatial.DecodeZones(payload, a.SimplifyTolerance)
	if err != nil {
		return res, temporal.NewNonRetryableApplicationError("dataset could not be decoded", "InvalidDataset", err)
	}
	res.Skipped, res.Duplicates = report.Skipped, len(report.Duplicates)
	if len(features) == 0 {
		return res, temporal.NewNonRetryableApplicationError("dataset contains no zones", "EmptyDataset", nil)
	}

	activity.RecordHeartbeat(ctx, len(features))
	n, err := a.Zones.ReplaceAll(ctx, features)
	if err != nil {
		return res, fmt.Errorf("store zones: %w", err)
	}
	res.FeatureCount = n

	logger.Info("zones loaded", "features", n, "skipped", res.Skipped, "duplicates", res.Duplicates, "hash", res.DataHash)
	return res, nil
}

// AnnounceDataset tells API instances that the stored dataset changed.
func (a *ImportActivities) AnnounceDataset(ctx context.Context, importID string, loaded LoadResult) error {
	if a.Publisher == nil {
		activity.GetLogger(ctx).Warn("no publisher configured, dataset update not announced", "import_id", importID)
		return nil
	}
	return a.Publisher.PublishDatasetUpdated(ctx, domain.DatasetUpdated{
		ImportID:     importID,
		DataHash:     loaded.DataHash,
		FeatureCount: loaded.FeatureCount,
		ImportedAt:   a.now(),
	})
}

// PruneGeocodeCache deletes expired geocode cache rows.
func (a *ImportActivities) PruneGeocodeCache(ctx context.Context) (int64, error) {
	if a.GeocodeCache == nil {
		return 0, nil
	}
	n, err := a.GeocodeCache.DeleteExpired(ctx, a.now())
	if err != nil {
		return 0, fmt.Errorf("prune geocode cache: %w", err)
	}
	return n, nil
}
