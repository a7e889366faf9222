package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/rollout/internal/model"
)

// singleAttemptCtx returns a workflow context whose activities run exactly
// once per invocation. The pipeline implements its own retry loop so that
// every attempt leaves a stage result row; letting Temporal retry underneath
// would hide attempts from the audit trail.
func singleAttemptCtx(ctx workflow.Context, timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
}

// dbActivityCtx returns a workflow context for database bookkeeping
// activities. These are small idempotent statements, so Temporal's own
// retry policy is the right tool.
func dbActivityCtx(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    10,
			InitialInterval:    time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
}

// errorKindOf extracts the error classification carried in an activity
// error's application error type. Errors without a recognized kind (worker
// crashes, start-to-close timeouts) count as transient infrastructure, which
// keeps them retryable.
func errorKindOf(err error) (model.ErrorKind, string) {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		switch kind := model.ErrorKind(appErr.Type()); kind {
		case model.ErrInvalidInput, model.ErrTransientInfrastructure,
			model.ErrAuthFailure, model.ErrHealthCheckTimeout,
			model.ErrFatal, model.ErrCancelled:
			return kind, appErr.Message()
		}
	}
	return model.ErrTransientInfrastructure, err.Error()
}

// backoffDelay computes the exponential backoff before retry number attempt
// (1-based: the delay slept after attempt N failed).
func backoffDelay(settings model.PipelineSettings, attempt int) time.Duration {
	delay := time.Duration(settings.InitialBackoffSecs) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := time.Duration(settings.MaxBackoffSecs) * time.Second
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// imageTag returns the tag portion of an artifact reference. References are
// validated before they reach workflow code, so the separator is always
// present.
func imageTag(artifactRef string) string {
	for i := len(artifactRef) - 1; i >= 0; i-- {
		if artifactRef[i] == ':' {
			return artifactRef[i+1:]
		}
	}
	return artifactRef
}
