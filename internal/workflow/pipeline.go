package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/rollout/internal/activity"
	"github.com/edvin/rollout/internal/model"
)

// DeployPipelineWorkflow drives one run through build → publish → rollout.
//
// The run row is the externally visible record; every stage transition and
// every attempt is persisted through activities before the pipeline moves
// on, so an operator reading the database sees exactly how far the run got
// even if the worker crashes mid-stage. Temporal replays the workflow after
// a crash and the completed activities are not re-executed.
//
// Build and publish run under the pipeline's own retry loop (see runStage).
// The rollout is delegated to the target's queue workflow and its outcome
// arrives back as a signal; cancellation is honored only between stages.
func DeployPipelineWorkflow(ctx workflow.Context, runID string) error {
	logger := workflow.GetLogger(ctx)
	cancelCh := workflow.GetSignalChannel(ctx, model.CancelSignalName)

	var pc activity.PipelineContext
	err := workflow.ExecuteActivity(dbActivityCtx(ctx), "GetPipelineContext", runID).Get(ctx, &pc)
	if err != nil {
		// A missing run row leaves nothing to mark failed, but a row that
		// loaded with an unusable context (e.g. the worker does not know the
		// run's target) must still reach a terminal state for the operator.
		if kind, detail := errorKindOf(err); !kind.Retryable() {
			pc.Run.ID = runID
			return finish(ctx, pc, model.StageFailed, &kind, &detail, "")
		}
		return err
	}
	settings := pc.Settings

	if pc.Run.Stage.Terminal() {
		logger.Info("run already finished, nothing to do", "run_id", runID, "stage", pc.Run.Stage)
		return nil
	}

	cancelled := func() bool {
		var reason string
		return cancelCh.ReceiveAsync(&reason)
	}

	artifactRef := ""
	if pc.Run.ArtifactRef != nil {
		artifactRef = *pc.Run.ArtifactRef
	}

	// Build. Skipped when a previous execution already recorded the
	// artifact; the reference is immutable once set.
	if pc.Run.Stage == model.StagePending || pc.Run.Stage == model.StageBuilding {
		if cancelled() {
			return finishCancelled(ctx, pc, "cancelled before build")
		}
		if err := updateStage(ctx, runID, model.StageBuilding); err != nil {
			return err
		}

		var res activity.BuildResult
		err := runStage(ctx, settings, runID, model.StageBuilding,
			time.Duration(settings.BuildTimeoutSecs)*time.Second,
			func(sctx workflow.Context) error {
				return workflow.ExecuteActivity(sctx, "BuildArtifact", activity.BuildParams{
					RunID:     runID,
					SourceRef: pc.Run.SourceRef,
				}).Get(ctx, &res)
			})
		if err != nil {
			return finishFailed(ctx, pc, err)
		}
		artifactRef = res.ArtifactRef

		err = workflow.ExecuteActivity(dbActivityCtx(ctx), "SetRunArtifact", activity.SetRunArtifactParams{
			RunID:       runID,
			ArtifactRef: artifactRef,
		}).Get(ctx, nil)
		if err != nil {
			return err
		}
	}

	// Publish.
	if pc.Run.Stage != model.StageRollingOut {
		if cancelled() {
			return finishCancelled(ctx, pc, "cancelled before publish")
		}
		if err := updateStage(ctx, runID, model.StagePublishing); err != nil {
			return err
		}

		err := runStage(ctx, settings, runID, model.StagePublishing,
			time.Duration(settings.PublishTimeoutSecs)*time.Second,
			func(sctx workflow.Context) error {
				return workflow.ExecuteActivity(sctx, "PublishArtifact", activity.PublishParams{
					RunID:       runID,
					ArtifactRef: artifactRef,
				}).Get(ctx, nil)
			})
		if err != nil {
			return finishFailed(ctx, pc, err)
		}
	}

	// Rollout. The task is handed to the per-target queue workflow, which
	// serializes rollouts against the target and signals the outcome back.
	if cancelled() {
		return finishCancelled(ctx, pc, "cancelled before rollout")
	}
	if err := updateStage(ctx, runID, model.StageRollingOut); err != nil {
		return err
	}

	task := model.RolloutTask{
		RunID:       runID,
		PipelineID:  workflow.GetInfo(ctx).WorkflowExecution.ID,
		TargetName:  pc.Run.TargetName,
		ArtifactRef: artifactRef,
	}
	err = workflow.ExecuteActivity(dbActivityCtx(ctx), "EnqueueRollout", task).Get(ctx, nil)
	if err != nil {
		return finishFailed(ctx, pc, err)
	}

	outcome, ok := awaitRolloutResult(ctx, settings)
	if !ok {
		detail := "rollout did not complete within the queue timeout"
		kind := model.ErrTransientInfrastructure
		appendRolloutResult(ctx, runID, model.OutcomeFailure, &kind, &detail, 0)
		return finish(ctx, pc, model.StageFailed, &kind, &detail, artifactRef)
	}

	if outcome.State == model.RolloutCommitted {
		appendRolloutResult(ctx, runID, model.OutcomeSuccess, nil, nil, outcome.DurationMS)
		return finish(ctx, pc, model.StageSucceeded, nil, nil, artifactRef)
	}

	kind := outcome.ErrorKind
	detail := outcome.ErrorDetail
	appendRolloutResult(ctx, runID, model.OutcomeFailure, &kind, &detail, outcome.DurationMS)
	return finish(ctx, pc, model.StageFailed, &kind, &detail, artifactRef)
}

// runStage executes one pipeline stage with bounded retries. Every attempt,
// successful or not, is appended to the run's stage results before the next
// decision is made: retry on transient errors, stop on everything else.
func runStage(ctx workflow.Context, settings model.PipelineSettings, runID string,
	stage model.RunStage, timeout time.Duration, call func(workflow.Context) error) error {

	logger := workflow.GetLogger(ctx)
	maxAttempts := settings.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	for attempt := 1; ; attempt++ {
		started := workflow.Now(ctx)
		err := call(singleAttemptCtx(ctx, timeout))
		durationMS := workflow.Now(ctx).Sub(started).Milliseconds()

		if err == nil {
			recordAttempt(ctx, activity.AppendStageResultParams{
				RunID:      runID,
				Stage:      stage,
				Attempt:    attempt,
				Outcome:    model.OutcomeSuccess,
				DurationMS: durationMS,
			})
			return nil
		}

		kind, detail := errorKindOf(err)
		recordAttempt(ctx, activity.AppendStageResultParams{
			RunID:       runID,
			Stage:       stage,
			Attempt:     attempt,
			Outcome:     model.OutcomeFailure,
			ErrorKind:   &kind,
			ErrorDetail: &detail,
			DurationMS:  durationMS,
		})

		if !kind.Retryable() || attempt >= maxAttempts {
			return err
		}

		delay := backoffDelay(settings, attempt)
		logger.Info("stage attempt failed, retrying",
			"run_id", runID,
			"stage", stage,
			"attempt", attempt,
			"error_kind", kind,
			"backoff", delay)
		if err := workflow.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// awaitRolloutResult blocks until the target workflow signals the rollout
// outcome or the queue timeout elapses. The timeout exists so that a lost
// signal cannot park the run forever.
func awaitRolloutResult(ctx workflow.Context, settings model.PipelineSettings) (model.RolloutOutcome, bool) {
	timeout := time.Duration(settings.RolloutQueueTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Hour
	}

	resultCh := workflow.GetSignalChannel(ctx, model.RolloutResultSignalName)
	var outcome model.RolloutOutcome
	received := false

	selector := workflow.NewSelector(ctx)
	selector.AddReceive(resultCh, func(c workflow.ReceiveChannel, _ bool) {
		c.Receive(ctx, &outcome)
		received = true
	})
	selector.AddFuture(workflow.NewTimer(ctx, timeout), func(workflow.Future) {})
	selector.Select(ctx)

	return outcome, received
}

func updateStage(ctx workflow.Context, runID string, stage model.RunStage) error {
	return workflow.ExecuteActivity(dbActivityCtx(ctx), "UpdateRunStage", activity.UpdateRunStageParams{
		RunID: runID,
		Stage: stage,
	}).Get(ctx, nil)
}

// recordAttempt appends a stage result. Bookkeeping failures are logged and
// swallowed; losing one audit row must not fail the run itself.
func recordAttempt(ctx workflow.Context, params activity.AppendStageResultParams) {
	err := workflow.ExecuteActivity(dbActivityCtx(ctx), "AppendStageResult", params).Get(ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Error("append stage result failed",
			"run_id", params.RunID, "stage", params.Stage, "error", err)
	}
}

func appendRolloutResult(ctx workflow.Context, runID string, outcome model.StageOutcome,
	kind *model.ErrorKind, detail *string, durationMS int64) {
	recordAttempt(ctx, activity.AppendStageResultParams{
		RunID:       runID,
		Stage:       model.StageRollingOut,
		Attempt:     1,
		Outcome:     outcome,
		ErrorKind:   kind,
		ErrorDetail: detail,
		DurationMS:  durationMS,
	})
}

func finishFailed(ctx workflow.Context, pc activity.PipelineContext, stageErr error) error {
	kind, detail := errorKindOf(stageErr)
	artifactRef := ""
	if pc.Run.ArtifactRef != nil {
		artifactRef = *pc.Run.ArtifactRef
	}
	return finish(ctx, pc, model.StageFailed, &kind, &detail, artifactRef)
}

func finishCancelled(ctx workflow.Context, pc activity.PipelineContext, detail string) error {
	kind := model.ErrCancelled
	artifactRef := ""
	if pc.Run.ArtifactRef != nil {
		artifactRef = *pc.Run.ArtifactRef
	}
	return finish(ctx, pc, model.StageFailed, &kind, &detail, artifactRef)
}

// finish records the terminal stage and fires the run's notification, if one
// was requested. The notification is best-effort: delivery failures are
// logged but the run's terminal state stands.
func finish(ctx workflow.Context, pc activity.PipelineContext, stage model.RunStage,
	kind *model.ErrorKind, detail *string, artifactRef string) error {

	logger := workflow.GetLogger(ctx)

	err := workflow.ExecuteActivity(dbActivityCtx(ctx), "FinishRun", activity.FinishRunParams{
		RunID:       pc.Run.ID,
		Stage:       stage,
		ErrorKind:   kind,
		ErrorDetail: detail,
	}).Get(ctx, nil)
	if err != nil {
		return err
	}

	if pc.Run.NotifyURL != nil && *pc.Run.NotifyURL != "" {
		payload := model.RunNotification{
			RunID:       pc.Run.ID,
			TargetName:  pc.Run.TargetName,
			SourceRef:   pc.Run.SourceRef,
			Stage:       stage,
			ArtifactRef: artifactRef,
		}
		if kind != nil {
			payload.ErrorKind = string(*kind)
		}
		if detail != nil {
			payload.Error = *detail
		}

		notifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts:    10,
				InitialInterval:    5 * time.Second,
				MaximumInterval:    5 * time.Minute,
				BackoffCoefficient: 2.0,
			},
		})
		err := workflow.ExecuteActivity(notifyCtx, "SendRunNotification", activity.SendNotificationParams{
			URL:     *pc.Run.NotifyURL,
			Payload: payload,
		}).Get(ctx, nil)
		if err != nil {
			logger.Error("run notification failed",
				"run_id", pc.Run.ID, "url", *pc.Run.NotifyURL, "error", err)
		}
	}

	logger.Info("run finished", "run_id", pc.Run.ID, "stage", stage)
	return nil
}
