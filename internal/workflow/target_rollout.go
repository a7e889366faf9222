package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/rollout/internal/activity"
	"github.com/edvin/rollout/internal/model"
)

// TargetRolloutWorkflow is a long-running per-target orchestrator that
// executes rollout tasks sequentially. Tasks arrive via the "rollout" signal
// from pipeline workflows; each task runs to committed or rolled_back before
// the next one starts, so a target never sees two concurrent rollouts.
//
// The workflow idles for up to 5 minutes between tasks. If no new task
// arrives within that window, the workflow completes gracefully. A new run
// is automatically started by SignalWithStartWorkflow when the next task is
// enqueued.
//
// After 200 iterations the workflow uses ContinueAsNew to keep the event
// history bounded. Unread signals are carried over automatically by
// Temporal.
func TargetRolloutWorkflow(ctx workflow.Context, targetName string) error {
	logger := workflow.GetLogger(ctx)
	signalCh := workflow.GetSignalChannel(ctx, model.RolloutSignalName)

	iteration := 0
	const maxIterations = 200

	for {
		// Drain any buffered signals first.
		for {
			var task model.RolloutTask
			if !signalCh.ReceiveAsync(&task) {
				break
			}
			executeRollout(ctx, task)
			iteration++
			if iteration >= maxIterations {
				return workflow.NewContinueAsNewError(ctx, TargetRolloutWorkflow, targetName)
			}
		}

		// No buffered signals, wait for a new one or the idle timeout.
		var task model.RolloutTask
		gotSignal := false

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(signalCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, &task)
			gotSignal = true
		})
		selector.AddFuture(workflow.NewTimer(ctx, 5*time.Minute), func(workflow.Future) {})
		selector.Select(ctx)

		if !gotSignal {
			logger.Info("no rollout tasks, completing", "target", targetName)
			return nil
		}

		executeRollout(ctx, task)
		iteration++
		if iteration >= maxIterations {
			return workflow.NewContinueAsNewError(ctx, TargetRolloutWorkflow, targetName)
		}
	}
}

// executeRollout runs one rollout to completion and signals the outcome back
// to the pipeline that submitted it. It never returns an error: every
// failure ends in a rolled_back outcome delivered to the pipeline, which
// owns the run's terminal state.
func executeRollout(ctx workflow.Context, task model.RolloutTask) {
	logger := workflow.GetLogger(ctx)
	started := workflow.Now(ctx)

	outcome := performRollout(ctx, task)
	outcome.RunID = task.RunID
	outcome.DurationMS = workflow.Now(ctx).Sub(started).Milliseconds()

	if outcome.State == model.RolloutCommitted {
		err := workflow.ExecuteActivity(dbActivityCtx(ctx), "ClearTargetDegraded", task.TargetName).Get(ctx, nil)
		if err != nil {
			logger.Error("clear degraded flag failed", "target", task.TargetName, "error", err)
		}
	} else if outcome.ErrorKind == model.ErrFatal {
		err := workflow.ExecuteActivity(dbActivityCtx(ctx), "MarkTargetDegraded", activity.MarkTargetDegradedParams{
			TargetName: task.TargetName,
			Reason:     outcome.ErrorDetail,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("mark degraded failed", "target", task.TargetName, "error", err)
		}
	}

	err := workflow.SignalExternalWorkflow(ctx, task.PipelineID, "",
		model.RolloutResultSignalName, outcome).Get(ctx, nil)
	if err != nil {
		// The pipeline may have timed out and completed already. The
		// rollout itself is done; nothing is lost beyond the signal.
		logger.Error("signal rollout result failed",
			"run_id", task.RunID, "pipeline_id", task.PipelineID, "error", err)
	}

	logger.Info("rollout finished",
		"run_id", task.RunID,
		"target", task.TargetName,
		"state", outcome.State)
}

// performRollout walks the rollout state machine:
//
//	connecting → pulling → stopping → starting → health_checking → committed
//
// Any failure transitions to rolled_back, restoring the previous container
// when the policy preserved it. FailedState records where the machine was
// when it failed.
func performRollout(ctx workflow.Context, task model.RolloutTask) model.RolloutOutcome {
	fail := func(state model.RolloutState, err error) model.RolloutOutcome {
		kind, detail := errorKindOf(err)
		return model.RolloutOutcome{
			State:       model.RolloutRolledBack,
			FailedState: state,
			ErrorKind:   kind,
			ErrorDetail: detail,
		}
	}

	var target model.DeploymentTarget
	err := workflow.ExecuteActivity(dbActivityCtx(ctx), "GetTarget", task.TargetName).Get(ctx, &target)
	if err != nil {
		return fail(model.RolloutConnecting, err)
	}

	stepCtx := rolloutStepCtx(ctx)

	// connecting
	err = workflow.ExecuteActivity(stepCtx, "ConnectTarget", activity.TargetParams{Target: target}).Get(ctx, nil)
	if err != nil {
		return fail(model.RolloutConnecting, err)
	}

	// pulling
	err = workflow.ExecuteActivity(stepCtx, "PullImage", activity.PullImageParams{
		Target: target,
		Image:  task.ArtifactRef,
	}).Get(ctx, nil)
	if err != nil {
		return fail(model.RolloutPulling, err)
	}

	var previous activity.FindContainerResult
	err = workflow.ExecuteActivity(stepCtx, "FindContainer", activity.FindContainerParams{
		Target: target,
		Prefix: target.ContainerPrefix,
	}).Get(ctx, &previous)
	if err != nil {
		return fail(model.RolloutStopping, err)
	}

	newName := fmt.Sprintf("%s-%s", target.ContainerPrefix, imageTag(task.ArtifactRef))

	// stopping. Under the swap policy a running previous container is
	// stopped but kept around so a failed health check can bring it back.
	// Everything else is removed: the stop_first policy never preserves,
	// re-deploying the same tag reuses the container name, and a previous
	// container that was already stopped is dead weight that would collide
	// with a later redeploy of its tag.
	preserved := ""
	if previous.Found {
		_, err := stopContainer(ctx, stepCtx, target, previous.ID)
		if err != nil {
			return fail(model.RolloutStopping, err)
		}

		if target.Policy == model.PolicySwap && previous.Running && previous.Name != newName {
			preserved = previous.ID
		} else {
			err = workflow.ExecuteActivity(stepCtx, "RemoveContainer", activity.RemoveContainerParams{
				Target:   target,
				NameOrID: previous.ID,
			}).Get(ctx, nil)
			if err != nil {
				return fail(model.RolloutStopping, err)
			}
		}
	}

	rollback := func(state model.RolloutState, cause error, newID string) model.RolloutOutcome {
		restoreContainer(ctx, stepCtx, target, newID, preserved)
		return fail(state, cause)
	}

	// starting
	var startRes activity.StartContainerResult
	err = workflow.ExecuteActivity(stepCtx, "StartContainer", activity.StartContainerParams{
		Target: target,
		Name:   newName,
		Image:  task.ArtifactRef,
	}).Get(ctx, &startRes)
	if err != nil {
		return rollback(model.RolloutStarting, err, "")
	}

	// health_checking
	probeCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Duration(target.HealthTimeoutSecs+30) * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	err = workflow.ExecuteActivity(probeCtx, "ProbeHealth", activity.ProbeHealthParams{
		URL:          fmt.Sprintf("http://%s:%d%s", target.Host, target.ServicePort, target.HealthPath),
		IntervalSecs: target.HealthIntervalSecs,
		TimeoutSecs:  target.HealthTimeoutSecs,
	}).Get(ctx, nil)
	if err != nil {
		return rollback(model.RolloutHealthChecking, err, startRes.ContainerID)
	}

	// committed. The preserved container is no longer needed.
	if preserved != "" {
		err := workflow.ExecuteActivity(stepCtx, "RemoveContainer", activity.RemoveContainerParams{
			Target:   target,
			NameOrID: preserved,
		}).Get(ctx, nil)
		if err != nil {
			workflow.GetLogger(ctx).Error("remove previous container failed",
				"target", target.Name, "container", preserved, "error", err)
		}
	}

	return model.RolloutOutcome{State: model.RolloutCommitted}
}

// restoreContainer is the rollback path: remove the failed new container and
// restart the preserved one. Best-effort; rollback errors are logged, not
// surfaced, since the primary failure is what the pipeline needs to see.
func restoreContainer(ctx workflow.Context, stepCtx workflow.Context,
	target model.DeploymentTarget, newID, preserved string) {

	logger := workflow.GetLogger(ctx)

	if newID != "" {
		err := workflow.ExecuteActivity(stepCtx, "RemoveContainer", activity.RemoveContainerParams{
			Target:   target,
			NameOrID: newID,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("remove failed container during rollback",
				"target", target.Name, "container", newID, "error", err)
		}
	}

	if preserved != "" {
		err := workflow.ExecuteActivity(stepCtx, "StartExistingContainer", activity.StartExistingParams{
			Target:      target,
			ContainerID: preserved,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("restore previous container failed",
				"target", target.Name, "container", preserved, "error", err)
		}
	}
}

func stopContainer(ctx workflow.Context, stepCtx workflow.Context,
	target model.DeploymentTarget, nameOrID string) (bool, error) {

	var res activity.StopContainerResult
	err := workflow.ExecuteActivity(stepCtx, "StopContainer", activity.StopContainerParams{
		Target:   target,
		NameOrID: nameOrID,
	}).Get(ctx, &res)
	if err != nil {
		return false, err
	}
	return res.Existed, nil
}

// rolloutStepCtx returns a workflow context for the individual rollout step
// activities. Transient failures (engine unreachable, registry hiccup) are
// retried by Temporal; classified non-retryable errors pass through on the
// first attempt.
func rolloutStepCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}
