package activity

import (
	"context"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/rollout/internal/model"
)

// RolloutQueue hands rollout tasks to the per-target entity workflow. Routing
// every task through SignalWithStartWorkflow guarantees that rollouts against
// the same target execute one at a time, in submission order.
type RolloutQueue struct {
	tc temporalclient.Client
}

// NewRolloutQueue creates a new RolloutQueue activity struct.
func NewRolloutQueue(tc temporalclient.Client) *RolloutQueue {
	return &RolloutQueue{tc: tc}
}

// EnqueueRollout signals the target's entity workflow with the task, starting
// the workflow if it is not already running. Safe to call more than once for
// the same task: a redelivered signal re-runs the rollout, which is itself a
// sequence of idempotent steps.
func (a *RolloutQueue) EnqueueRollout(ctx context.Context, task model.RolloutTask) error {
	wfID := model.TargetWorkflowID(task.TargetName)
	_, err := a.tc.SignalWithStartWorkflow(ctx, wfID, model.RolloutSignalName, task,
		temporalclient.StartWorkflowOptions{
			ID:        wfID,
			TaskQueue: model.TaskQueue,
		},
		"TargetRolloutWorkflow",
		task.TargetName,
	)
	if err != nil {
		return appError(model.ErrTransientInfrastructure, "enqueue rollout for "+task.TargetName, err)
	}
	return nil
}
