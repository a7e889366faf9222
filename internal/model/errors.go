package model

// ErrorKind classifies pipeline errors for retry decisions.
//
//   - invalid_input: malformed tag or target, fails fast, never retried
//   - transient_infrastructure: network/timeout, retried with backoff
//   - auth_failure: rejected credential, surfaced immediately, never retried
//   - health_check_timeout: triggers the rollback path instead of a retry,
//     since the artifact itself may be broken
//   - fatal: unrecoverable remote state (e.g. disk exhaustion); the run fails
//     and the target is marked degraded for operator attention
//   - cancelled: the run was cancelled between stages
type ErrorKind string

const (
	ErrInvalidInput            ErrorKind = "invalid_input"
	ErrTransientInfrastructure ErrorKind = "transient_infrastructure"
	ErrAuthFailure             ErrorKind = "auth_failure"
	ErrHealthCheckTimeout      ErrorKind = "health_check_timeout"
	ErrFatal                   ErrorKind = "fatal"
	ErrCancelled               ErrorKind = "cancelled"
)

// Retryable reports whether a stage attempt that failed with this kind may be
// retried transparently by the pipeline's retry wrapper.
func (k ErrorKind) Retryable() bool {
	return k == ErrTransientInfrastructure
}
