package activity

import (
	"context"
	"errors"
	"strings"

	"github.com/docker/docker/errdefs"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/rollout/internal/builder"
	"github.com/edvin/rollout/internal/model"
	"github.com/edvin/rollout/internal/publisher"
)

// appError wraps an error as a Temporal application error whose type carries
// the pipeline error kind across the activity boundary. Non-retryable kinds
// are marked so Temporal's own retry machinery never resurrects them either.
func appError(kind model.ErrorKind, msg string, cause error) error {
	if kind.Retryable() {
		return temporal.NewApplicationError(msg, string(kind), cause)
	}
	return temporal.NewNonRetryableApplicationError(msg, string(kind), cause)
}

// classify maps an arbitrary collaborator error onto the pipeline error
// taxonomy. Unknown errors default to transient infrastructure so that a
// bounded retry gets a chance before the run fails.
func classify(msg string, err error) error {
	var buildErr *builder.BuildError
	if errors.As(err, &buildErr) {
		return appError(buildErr.Kind, msg, err)
	}
	var pubErr *publisher.PublishError
	if errors.As(err, &pubErr) {
		return appError(pubErr.Kind, msg, err)
	}

	switch {
	case errdefs.IsUnauthorized(err), errdefs.IsForbidden(err):
		return appError(model.ErrAuthFailure, msg, err)
	case errdefs.IsInvalidParameter(err):
		return appError(model.ErrInvalidInput, msg, err)
	case isFatalRemote(err):
		return appError(model.ErrFatal, msg, err)
	case errors.Is(err, context.DeadlineExceeded):
		return appError(model.ErrTransientInfrastructure, msg, err)
	default:
		return appError(model.ErrTransientInfrastructure, msg, err)
	}
}

// isFatalRemote detects unrecoverable remote conditions that retrying cannot
// fix and that need operator attention on the target host.
func isFatalRemote(err error) bool {
	if err == nil {
		return false
	}
	m := strings.ToLower(err.Error())
	return strings.Contains(m, "no space left on device") ||
		strings.Contains(m, "disk quota exceeded") ||
		strings.Contains(m, "read-only file system")
}
