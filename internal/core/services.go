package core

import (
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/rollout/internal/model"
)

type Services struct {
	Run    *RunService
	Target *TargetService
	APIKey *APIKeyService
}

func NewServices(db DB, tc temporalclient.Client, targets []model.DeploymentTarget) *Services {
	return &Services{
		Run:    NewRunService(db, tc, targets),
		Target: NewTargetService(db, targets),
		APIKey: NewAPIKeyService(db),
	}
}
