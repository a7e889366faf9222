package model

import (
	"time"
)

// RunStage is the pipeline stage a run is currently in. Transitions are
// monotonic: a run never regresses from a later stage to an earlier one.
// Retries happen within a stage and do not change it.
type RunStage string

const (
	StagePending    RunStage = "pending"
	StageBuilding   RunStage = "building"
	StagePublishing RunStage = "publishing"
	StageRollingOut RunStage = "rolling_out"
	StageSucceeded  RunStage = "succeeded"
	StageFailed     RunStage = "failed"
)

// Terminal reports whether the stage is a terminal state. Terminal runs are
// immutable and retained for audit until purged.
func (s RunStage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// StageOutcome is the result of a single stage attempt.
type StageOutcome string

const (
	OutcomeSuccess StageOutcome = "success"
	OutcomeFailure StageOutcome = "failure"
)

// Run is a single execution of the build → publish → rollout pipeline.
type Run struct {
	ID            string     `json:"id"`
	TargetName    string     `json:"target"`
	SourceRef     string     `json:"source_ref"`
	Actor         string     `json:"actor,omitempty"`
	NotifyURL     *string    `json:"notify_url,omitempty"`
	Stage         RunStage   `json:"stage"`
	ArtifactRef   *string    `json:"artifact_ref,omitempty"`
	LastErrorKind *ErrorKind `json:"last_error_kind,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// StageResult is the outcome of one stage attempt. Results are appended after
// every attempt and never mutated.
type StageResult struct {
	RunID       string       `json:"run_id"`
	Stage       RunStage     `json:"stage"`
	Attempt     int          `json:"attempt"`
	Outcome     StageOutcome `json:"outcome"`
	ErrorKind   *ErrorKind   `json:"error_kind,omitempty"`
	ErrorDetail *string      `json:"error_detail,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	CreatedAt   time.Time    `json:"created_at"`
}

// RunNotification is the payload POSTed to a run's notify URL when the run
// reaches a terminal stage.
type RunNotification struct {
	RunID       string   `json:"run_id"`
	TargetName  string   `json:"target"`
	SourceRef   string   `json:"source_ref"`
	Stage       RunStage `json:"stage"`
	ArtifactRef string   `json:"artifact_ref,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	Error       string   `json:"error,omitempty"`
}
