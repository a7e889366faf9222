package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/rollout/internal/metrics"
	"github.com/edvin/rollout/internal/model"
)

// DB defines the database operations used by activity structs.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunDB contains activities that read and update run state in the database.
// It also resolves the immutable target and settings snapshot for a run so
// that workflow code never touches configuration directly.
type RunDB struct {
	db       DB
	targets  map[string]model.DeploymentTarget
	settings model.PipelineSettings
}

// NewRunDB creates a new RunDB activity struct. The targets slice is the
// immutable set loaded at process start.
func NewRunDB(db DB, targets []model.DeploymentTarget, settings model.PipelineSettings) *RunDB {
	byName := make(map[string]model.DeploymentTarget, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	return &RunDB{db: db, targets: byName, settings: settings}
}

// PipelineContext bundles everything a pipeline workflow needs to drive one
// run: the run row, the target it deploys to, and the retry/timeout settings.
type PipelineContext struct {
	Run      model.Run              `json:"run"`
	Target   model.DeploymentTarget `json:"target"`
	Settings model.PipelineSettings `json:"settings"`
}

// GetPipelineContext loads the run and resolves its target.
func (a *RunDB) GetPipelineContext(ctx context.Context, runID string) (*PipelineContext, error) {
	run, err := a.getRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	target, ok := a.targets[run.TargetName]
	if !ok {
		return nil, appError(model.ErrInvalidInput,
			fmt.Sprintf("run %s references unknown target %q", runID, run.TargetName), nil)
	}

	return &PipelineContext{Run: *run, Target: target, Settings: a.settings}, nil
}

// GetTarget resolves a target by name for the rollout queue workflow.
func (a *RunDB) GetTarget(ctx context.Context, name string) (*model.DeploymentTarget, error) {
	target, ok := a.targets[name]
	if !ok {
		return nil, appError(model.ErrInvalidInput, fmt.Sprintf("unknown target %q", name), nil)
	}
	return &target, nil
}

func (a *RunDB) getRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	err := a.db.QueryRow(ctx,
		`SELECT id, target_name, source_ref, actor, notify_url, stage, artifact_ref,
		        last_error_kind, last_error, created_at, updated_at, finished_at
		 FROM runs WHERE id = $1`, runID,
	).Scan(&r.ID, &r.TargetName, &r.SourceRef, &r.Actor, &r.NotifyURL, &r.Stage, &r.ArtifactRef,
		&r.LastErrorKind, &r.LastError, &r.CreatedAt, &r.UpdatedAt, &r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &r, nil
}

// UpdateRunStageParams holds parameters for UpdateRunStage.
type UpdateRunStageParams struct {
	RunID string         `json:"run_id"`
	Stage model.RunStage `json:"stage"`
}

// UpdateRunStage advances a run to the given stage. Terminal runs are never
// touched, keeping stage transitions monotonic.
func (a *RunDB) UpdateRunStage(ctx context.Context, params UpdateRunStageParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE runs SET stage = $2, updated_at = now()
		 WHERE id = $1 AND stage NOT IN ($3, $4)`,
		params.RunID, params.Stage, model.StageSucceeded, model.StageFailed,
	)
	if err != nil {
		return fmt.Errorf("update run %s stage: %w", params.RunID, err)
	}
	return nil
}

// SetRunArtifactParams holds parameters for SetRunArtifact.
type SetRunArtifactParams struct {
	RunID       string `json:"run_id"`
	ArtifactRef string `json:"artifact_ref"`
}

// SetRunArtifact records the built artifact reference. The reference is
// immutable once set; re-applying the same value is a no-op, which makes the
// activity safe to replay.
func (a *RunDB) SetRunArtifact(ctx context.Context, params SetRunArtifactParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE runs SET artifact_ref = $2, updated_at = now()
		 WHERE id = $1 AND (artifact_ref IS NULL OR artifact_ref = $2)`,
		params.RunID, params.ArtifactRef,
	)
	if err != nil {
		return fmt.Errorf("set run %s artifact: %w", params.RunID, err)
	}
	return nil
}

// AppendStageResultParams holds parameters for AppendStageResult.
type AppendStageResultParams struct {
	RunID       string             `json:"run_id"`
	Stage       model.RunStage     `json:"stage"`
	Attempt     int                `json:"attempt"`
	Outcome     model.StageOutcome `json:"outcome"`
	ErrorKind   *model.ErrorKind   `json:"error_kind,omitempty"`
	ErrorDetail *string            `json:"error_detail,omitempty"`
	DurationMS  int64              `json:"duration_ms"`
}

// AppendStageResult records the outcome of one stage attempt. Results are
// append-only; nothing ever mutates them.
func (a *RunDB) AppendStageResult(ctx context.Context, params AppendStageResultParams) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO stage_results (run_id, stage, attempt, outcome, error_kind, error_detail, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		params.RunID, params.Stage, params.Attempt, params.Outcome,
		params.ErrorKind, params.ErrorDetail, params.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("append stage result for run %s: %w", params.RunID, err)
	}

	metrics.ObserveStageAttempt(string(params.Stage), string(params.Outcome),
		time.Duration(params.DurationMS)*time.Millisecond)
	if params.ErrorKind != nil && *params.ErrorKind == model.ErrHealthCheckTimeout {
		metrics.RollbackOccurred()
	}
	return nil
}

// FinishRunParams holds parameters for FinishRun.
type FinishRunParams struct {
	RunID       string           `json:"run_id"`
	Stage       model.RunStage   `json:"stage"` // succeeded or failed
	ErrorKind   *model.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail *string          `json:"error_detail,omitempty"`
}

// FinishRun moves a run into a terminal stage, recording the last error if
// any. Terminal runs are immutable afterwards.
func (a *RunDB) FinishRun(ctx context.Context, params FinishRunParams) error {
	_, err := a.db.Exec(ctx,
		`UPDATE runs SET stage = $2, last_error_kind = $3, last_error = $4,
		        finished_at = now(), updated_at = now()
		 WHERE id = $1 AND stage NOT IN ($5, $6)`,
		params.RunID, params.Stage, params.ErrorKind, params.ErrorDetail,
		model.StageSucceeded, model.StageFailed,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", params.RunID, err)
	}

	metrics.RunFinished(string(params.Stage))
	return nil
}

// MarkTargetDegradedParams holds parameters for MarkTargetDegraded.
type MarkTargetDegradedParams struct {
	TargetName string `json:"target"`
	Reason     string `json:"reason"`
}

// MarkTargetDegraded flags a target for operator attention after a fatal
// remote error.
func (a *RunDB) MarkTargetDegraded(ctx context.Context, params MarkTargetDegradedParams) error {
	_, err := a.db.Exec(ctx,
		`INSERT INTO target_conditions (target_name, degraded, reason, updated_at)
		 VALUES ($1, true, $2, now())
		 ON CONFLICT (target_name)
		 DO UPDATE SET degraded = true, reason = $2, updated_at = now()`,
		params.TargetName, params.Reason,
	)
	if err != nil {
		return fmt.Errorf("mark target %s degraded: %w", params.TargetName, err)
	}
	return nil
}

// ClearTargetDegraded resets a target's degraded flag after a successful
// rollout commits.
func (a *RunDB) ClearTargetDegraded(ctx context.Context, targetName string) error {
	_, err := a.db.Exec(ctx,
		`UPDATE target_conditions SET degraded = false, reason = '', updated_at = now()
		 WHERE target_name = $1`,
		targetName,
	)
	if err != nil {
		return fmt.Errorf("clear target %s degraded: %w", targetName, err)
	}
	return nil
}

// PurgeRunsParams holds parameters for PurgeRuns.
type PurgeRunsParams struct {
	Cutoff time.Time `json:"cutoff"`
}

// PurgeRuns deletes terminal runs that finished before the cutoff, along with
// their stage results. Returns the number of runs removed.
func (a *RunDB) PurgeRuns(ctx context.Context, params PurgeRunsParams) (int64, error) {
	tag, err := a.db.Exec(ctx,
		`DELETE FROM runs WHERE stage IN ($1, $2) AND finished_at < $3`,
		model.StageSucceeded, model.StageFailed, params.Cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
