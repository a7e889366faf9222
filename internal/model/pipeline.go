package model

// TaskQueue is the Temporal task queue all pipeline workflows and activities
// run on.
const TaskQueue = "rollout-pipeline"

const (
	// RolloutSignalName delivers RolloutTask values to a target's rollout
	// queue workflow. Signalling through the per-target workflow is what
	// serializes rollouts: at most one rollout is in flight per target.
	RolloutSignalName = "rollout"

	// RolloutResultSignalName delivers the RolloutOutcome back to the
	// pipeline workflow that enqueued the task.
	RolloutResultSignalName = "rollout-result"

	// CancelSignalName requests cancellation of a pipeline run. It is only
	// honored between stages; a rollout already in flight always reaches
	// committed or rolled_back first.
	CancelSignalName = "cancel"
)

// PipelineWorkflowID returns the workflow ID for a run's pipeline workflow.
func PipelineWorkflowID(runID string) string {
	return "run-" + runID
}

// TargetWorkflowID returns the workflow ID of a target's rollout queue
// workflow.
func TargetWorkflowID(targetName string) string {
	return "target-" + targetName
}

// RolloutTask is one queued rollout, sent to the target's rollout queue
// workflow.
type RolloutTask struct {
	RunID string `json:"run_id"`
	// PipelineID is the workflow ID to signal with the RolloutOutcome.
	PipelineID  string `json:"pipeline_id"`
	TargetName  string `json:"target"`
	ArtifactRef string `json:"artifact_ref"`
}

// RolloutOutcome reports how a rollout ended.
type RolloutOutcome struct {
	RunID       string       `json:"run_id"`
	State       RolloutState `json:"state"` // committed or rolled_back
	FailedState RolloutState `json:"failed_state,omitempty"`
	ErrorKind   ErrorKind    `json:"error_kind,omitempty"`
	ErrorDetail string       `json:"error_detail,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
}

// PipelineSettings is the retry and timeout configuration snapshot handed to
// the pipeline workflow. It is resolved inside an activity so that workflow
// code stays deterministic.
type PipelineSettings struct {
	MaxAttempts         int `json:"max_attempts"`
	InitialBackoffSecs  int `json:"initial_backoff_secs"`
	MaxBackoffSecs      int `json:"max_backoff_secs"`
	BuildTimeoutSecs    int `json:"build_timeout_secs"`
	PublishTimeoutSecs  int `json:"publish_timeout_secs"`
	RolloutTimeoutSecs  int `json:"rollout_timeout_secs"`
	RolloutQueueTimeout int `json:"rollout_queue_timeout_secs"`
}
