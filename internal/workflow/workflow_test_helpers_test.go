package workflow

import (
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/rollout/internal/activity"
	"github.com/edvin/rollout/internal/model"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized correctly
// by the Temporal test framework. In unit tests, all activities are mocked via
// OnActivity, but the framework still needs the type information for proper
// serialization/deserialization of activity parameters and return values.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.RunDB{})
	env.RegisterActivity(&activity.Build{})
	env.RegisterActivity(&activity.Publish{})
	env.RegisterActivity(&activity.Rollout{})
	env.RegisterActivity(&activity.RolloutQueue{})
	env.RegisterActivity(&activity.Notify{})
}

// appErrorForTest builds an activity error carrying the given kind, the way
// the activity layer's classifier does.
func appErrorForTest(kind model.ErrorKind, msg string) error {
	if kind.Retryable() {
		return temporal.NewApplicationError(msg, string(kind))
	}
	return temporal.NewNonRetryableApplicationError(msg, string(kind), nil)
}

func testSettings() model.PipelineSettings {
	return model.PipelineSettings{
		MaxAttempts:         3,
		InitialBackoffSecs:  1,
		MaxBackoffSecs:      60,
		BuildTimeoutSecs:    600,
		PublishTimeoutSecs:  300,
		RolloutTimeoutSecs:  600,
		RolloutQueueTimeout: 3600,
	}
}

func pipelineContext(stage model.RunStage) *activity.PipelineContext {
	return &activity.PipelineContext{
		Run: model.Run{
			ID:         "run-1",
			TargetName: "web-1",
			SourceRef:  "v1.2.3",
			Stage:      stage,
		},
		Target:   rolloutTarget(model.PolicySwap),
		Settings: testSettings(),
	}
}

func rolloutTarget(policy model.RolloutPolicy) model.DeploymentTarget {
	return model.DeploymentTarget{
		Name:               "web-1",
		DockerHost:         "tcp://web-1.internal:2376",
		ContainerPrefix:    "app",
		ServicePort:        8080,
		ContainerPort:      8080,
		HealthPath:         "/healthz",
		HealthTimeoutSecs:  60,
		HealthIntervalSecs: 2,
		Host:               "web-1.internal",
		Policy:             policy,
	}
}
