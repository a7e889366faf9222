package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/rollout/internal/activity"
)

// PurgeRunsWorkflow deletes terminal runs older than the retention window.
// It runs on a cron schedule registered at worker startup.
func PurgeRunsWorkflow(ctx workflow.Context, retentionDays int) error {
	logger := workflow.GetLogger(ctx)
	if retentionDays <= 0 {
		retentionDays = 90
	}

	cutoff := workflow.Now(ctx).AddDate(0, 0, -retentionDays)

	actCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	})

	var removed int64
	err := workflow.ExecuteActivity(actCtx, "PurgeRuns", activity.PurgeRunsParams{
		Cutoff: cutoff,
	}).Get(ctx, &removed)
	if err != nil {
		return err
	}

	logger.Info("purged terminal runs", "removed", removed, "cutoff", cutoff)
	return nil
}
