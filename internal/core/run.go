package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/rollout/internal/model"
	"github.com/edvin/rollout/internal/platform"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when an operation requires a run that has not
// reached a terminal stage.
var ErrRunFinished = errors.New("run already finished")

// RunService manages pipeline runs: the database record and the Temporal
// workflow that drives it.
type RunService struct {
	db      DB
	tc      temporalclient.Client
	targets map[string]model.DeploymentTarget
}

// NewRunService creates a new RunService. The targets slice is the immutable
// set loaded at process start.
func NewRunService(db DB, tc temporalclient.Client, targets []model.DeploymentTarget) *RunService {
	byName := make(map[string]model.DeploymentTarget, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	return &RunService{db: db, tc: tc, targets: byName}
}

// Submit creates a run and starts its pipeline workflow. The run row is
// inserted first so that the record exists even if the workflow start fails;
// a failed start marks the run failed immediately.
func (s *RunService) Submit(ctx context.Context, targetName, sourceRef, actor string, notifyURL *string) (*model.Run, error) {
	if _, ok := s.targets[targetName]; !ok {
		return nil, fmt.Errorf("unknown target %q", targetName)
	}

	run := &model.Run{
		ID:         platform.NewID(),
		TargetName: targetName,
		SourceRef:  sourceRef,
		Actor:      actor,
		NotifyURL:  notifyURL,
		Stage:      model.StagePending,
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO runs (id, target_name, source_ref, actor, notify_url, stage)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		run.ID, run.TargetName, run.SourceRef, run.Actor, run.NotifyURL, run.Stage,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	_, err = s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        model.PipelineWorkflowID(run.ID),
		TaskQueue: model.TaskQueue,
	}, "DeployPipelineWorkflow", run.ID)
	if err != nil {
		kind := model.ErrTransientInfrastructure
		detail := fmt.Sprintf("start pipeline workflow: %s", err)
		_, _ = s.db.Exec(ctx,
			`UPDATE runs SET stage = $2, last_error_kind = $3, last_error = $4,
			        finished_at = now(), updated_at = now()
			 WHERE id = $1`,
			run.ID, model.StageFailed, kind, detail)
		return nil, fmt.Errorf("start pipeline workflow: %w", err)
	}

	return run, nil
}

// GetByID retrieves a run by its ID.
func (s *RunService) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var r model.Run
	err := s.db.QueryRow(ctx,
		`SELECT id, target_name, source_ref, actor, notify_url, stage, artifact_ref,
		        last_error_kind, last_error, created_at, updated_at, finished_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.TargetName, &r.SourceRef, &r.Actor, &r.NotifyURL, &r.Stage, &r.ArtifactRef,
		&r.LastErrorKind, &r.LastError, &r.CreatedAt, &r.UpdatedAt, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// List retrieves runs newest first with cursor-based pagination and optional
// target and stage filters.
func (s *RunService) List(ctx context.Context, limit int, cursor, targetName, stage string) ([]model.Run, bool, error) {
	query := `SELECT id, target_name, source_ref, actor, notify_url, stage, artifact_ref,
	                 last_error_kind, last_error, created_at, updated_at, finished_at
	          FROM runs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if targetName != "" {
		query += fmt.Sprintf(` AND target_name = $%d`, argIdx)
		args = append(args, targetName)
		argIdx++
	}
	if stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, stage)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND created_at < (SELECT created_at FROM runs WHERE id = $%d)`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.TargetName, &r.SourceRef, &r.Actor, &r.NotifyURL, &r.Stage, &r.ArtifactRef,
			&r.LastErrorKind, &r.LastError, &r.CreatedAt, &r.UpdatedAt, &r.FinishedAt); err != nil {
			return nil, false, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate runs: %w", err)
	}

	hasMore := len(runs) > limit
	if hasMore {
		runs = runs[:limit]
	}
	return runs, hasMore, nil
}

// StageResults retrieves the full attempt history for a run, oldest first.
func (s *RunService) StageResults(ctx context.Context, runID string) ([]model.StageResult, error) {
	if _, err := s.GetByID(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT run_id, stage, attempt, outcome, error_kind, error_detail, duration_ms, created_at
		 FROM stage_results WHERE run_id = $1 ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []model.StageResult
	for rows.Next() {
		var sr model.StageResult
		if err := rows.Scan(&sr.RunID, &sr.Stage, &sr.Attempt, &sr.Outcome,
			&sr.ErrorKind, &sr.ErrorDetail, &sr.DurationMS, &sr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage results: %w", err)
	}
	return results, nil
}

// Cancel requests cancellation of a run. The signal is honored by the
// pipeline only between stages; a rollout in flight always completes first.
func (s *RunService) Cancel(ctx context.Context, runID, reason string) error {
	run, err := s.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Stage.Terminal() {
		return ErrRunFinished
	}

	if reason == "" {
		reason = "cancelled by operator"
	}
	err = s.tc.SignalWorkflow(ctx, model.PipelineWorkflowID(runID), "", model.CancelSignalName, reason)
	if err != nil {
		return fmt.Errorf("signal cancel for run %s: %w", runID, err)
	}
	return nil
}

// PurgeTerminal deletes terminal runs that finished before the cutoff,
// returning the number removed. Stage results cascade with the run.
func (s *RunService) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx,
		`DELETE FROM runs WHERE stage IN ($1, $2) AND finished_at < $3`,
		model.StageSucceeded, model.StageFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
