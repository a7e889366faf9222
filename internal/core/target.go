package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/edvin/rollout/internal/model"
)

// ErrTargetNotFound is returned when a target name does not exist.
var ErrTargetNotFound = errors.New("target not found")

// TargetStatus is a target with its persisted operational condition.
type TargetStatus struct {
	model.DeploymentTarget
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// TargetService exposes the immutable target set together with each target's
// persisted condition.
type TargetService struct {
	db      DB
	targets []model.DeploymentTarget
}

// NewTargetService creates a new TargetService.
func NewTargetService(db DB, targets []model.DeploymentTarget) *TargetService {
	return &TargetService{db: db, targets: targets}
}

// List returns all configured targets with their conditions.
func (s *TargetService) List(ctx context.Context) ([]TargetStatus, error) {
	conditions, err := s.conditions(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]TargetStatus, 0, len(s.targets))
	for _, t := range s.targets {
		st := TargetStatus{DeploymentTarget: t}
		if c, ok := conditions[t.Name]; ok {
			st.Degraded = c.Degraded
			st.DegradedReason = c.Reason
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// GetByName returns one target with its condition.
func (s *TargetService) GetByName(ctx context.Context, name string) (*TargetStatus, error) {
	for _, t := range s.targets {
		if t.Name != name {
			continue
		}
		conditions, err := s.conditions(ctx)
		if err != nil {
			return nil, err
		}
		st := TargetStatus{DeploymentTarget: t}
		if c, ok := conditions[name]; ok {
			st.Degraded = c.Degraded
			st.DegradedReason = c.Reason
		}
		return &st, nil
	}
	return nil, ErrTargetNotFound
}

// FindByRepository maps a source repository to its target. Used by the push
// webhook to resolve which target a push event deploys.
func (s *TargetService) FindByRepository(repository string) (*model.DeploymentTarget, bool) {
	for _, t := range s.targets {
		if t.Repository != "" && t.Repository == repository {
			return &t, true
		}
	}
	return nil, false
}

func (s *TargetService) conditions(ctx context.Context) (map[string]model.TargetCondition, error) {
	rows, err := s.db.Query(ctx,
		`SELECT target_name, degraded, reason FROM target_conditions`)
	if err != nil {
		return nil, fmt.Errorf("list target conditions: %w", err)
	}
	defer rows.Close()

	conditions := make(map[string]model.TargetCondition)
	for rows.Next() {
		var c model.TargetCondition
		if err := rows.Scan(&c.TargetName, &c.Degraded, &c.Reason); err != nil {
			return nil, fmt.Errorf("scan target condition: %w", err)
		}
		conditions[c.TargetName] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target conditions: %w", err)
	}
	return conditions, nil
}
