package workflow

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/rollout/internal/activity"
	"github.com/edvin/rollout/internal/model"
)

type TargetRolloutWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *TargetRolloutWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *TargetRolloutWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func rolloutTask() model.RolloutTask {
	return model.RolloutTask{
		RunID:       "run-1",
		PipelineID:  "run-run-1",
		TargetName:  "web-1",
		ArtifactRef: "registry.example.com/myorg/app:v2.0.0",
	}
}

func (s *TargetRolloutWorkflowTestSuite) enqueue(task model.RolloutTask) {
	s.env.RegisterDelayedCallback(func() {
		s.env.SignalWorkflow(model.RolloutSignalName, task)
	}, 0)
}

func (s *TargetRolloutWorkflowTestSuite) expectOutcome(task model.RolloutTask, match func(model.RolloutOutcome) bool) {
	s.env.OnSignalExternalWorkflow(mock.Anything, task.PipelineID, "",
		model.RolloutResultSignalName, mock.MatchedBy(match)).Return(nil)
}

func (s *TargetRolloutWorkflowTestSuite) TestCommittedSwap() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, activity.PullImageParams{
		Target: target,
		Image:  task.ArtifactRef,
	}).Return(&activity.PullImageResult{Digest: "sha256:abc"}, nil)

	// A previous version is running under the swap policy: stop it, keep it.
	s.env.OnActivity("FindContainer", mock.Anything, activity.FindContainerParams{
		Target: target,
		Prefix: "app",
	}).Return(&activity.FindContainerResult{
		Found: true, ID: "old-cid", Name: "app-v1.0.0", Image: "registry.example.com/myorg/app:v1.0.0", Running: true,
	}, nil)
	s.env.OnActivity("StopContainer", mock.Anything, activity.StopContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(&activity.StopContainerResult{Existed: true}, nil)

	s.env.OnActivity("StartContainer", mock.Anything, activity.StartContainerParams{
		Target: target, Name: "app-v2.0.0", Image: task.ArtifactRef,
	}).Return(&activity.StartContainerResult{ContainerID: "new-cid", HostPort: 8080}, nil)

	s.env.OnActivity("ProbeHealth", mock.Anything, activity.ProbeHealthParams{
		URL:          "http://web-1.internal:8080/healthz",
		IntervalSecs: 2,
		TimeoutSecs:  60,
	}).Return(nil)

	// Commit discards the preserved container and clears any degraded flag.
	s.env.OnActivity("RemoveContainer", mock.Anything, activity.RemoveContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(nil)
	s.env.OnActivity("ClearTargetDegraded", mock.Anything, "web-1").Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.RunID == "run-1" && o.State == model.RolloutCommitted
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestNoPreviousContainerCommits() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(&activity.PullImageResult{}, nil)

	// First deploy to this target: nothing to stop, nothing to remove. The
	// stopping step is skipped entirely and the rollout still commits.
	s.env.OnActivity("FindContainer", mock.Anything, activity.FindContainerParams{
		Target: target,
		Prefix: "app",
	}).Return(&activity.FindContainerResult{Found: false}, nil)

	s.env.OnActivity("StartContainer", mock.Anything, activity.StartContainerParams{
		Target: target, Name: "app-v2.0.0", Image: task.ArtifactRef,
	}).Return(&activity.StartContainerResult{ContainerID: "new-cid", HostPort: 8080}, nil)
	s.env.OnActivity("ProbeHealth", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("ClearTargetDegraded", mock.Anything, "web-1").Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.RunID == "run-1" && o.State == model.RolloutCommitted
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
	s.env.AssertNotCalled(s.T(), "StopContainer", mock.Anything, mock.Anything)
	s.env.AssertNotCalled(s.T(), "RemoveContainer", mock.Anything, mock.Anything)
}

func (s *TargetRolloutWorkflowTestSuite) TestStoppedPreviousContainerIsRemoved() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(&activity.PullImageResult{}, nil)

	// The previous container is already stopped. It cannot serve as a
	// rollback point, so even the swap policy removes it instead of
	// leaving it behind to collide with a later redeploy of its tag.
	s.env.OnActivity("FindContainer", mock.Anything, mock.Anything).
		Return(&activity.FindContainerResult{
			Found: true, ID: "old-cid", Name: "app-v1.0.0", Running: false,
		}, nil)
	s.env.OnActivity("StopContainer", mock.Anything, activity.StopContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(&activity.StopContainerResult{Existed: true}, nil)
	s.env.OnActivity("RemoveContainer", mock.Anything, activity.RemoveContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(nil).Once()

	s.env.OnActivity("StartContainer", mock.Anything, mock.Anything).
		Return(&activity.StartContainerResult{ContainerID: "new-cid"}, nil)
	s.env.OnActivity("ProbeHealth", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("ClearTargetDegraded", mock.Anything, "web-1").Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.State == model.RolloutCommitted
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestHealthFailureRollsBack() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(&activity.PullImageResult{}, nil)
	s.env.OnActivity("FindContainer", mock.Anything, mock.Anything).
		Return(&activity.FindContainerResult{
			Found: true, ID: "old-cid", Name: "app-v1.0.0", Running: true,
		}, nil)
	s.env.OnActivity("StopContainer", mock.Anything, mock.Anything).
		Return(&activity.StopContainerResult{Existed: true}, nil)
	s.env.OnActivity("StartContainer", mock.Anything, mock.Anything).
		Return(&activity.StartContainerResult{ContainerID: "new-cid"}, nil)

	s.env.OnActivity("ProbeHealth", mock.Anything, mock.Anything).
		Return(appErrorForTest(model.ErrHealthCheckTimeout, "health check did not pass"))

	// Rollback: remove the failed new container, restart the preserved one.
	s.env.OnActivity("RemoveContainer", mock.Anything, activity.RemoveContainerParams{
		Target: target, NameOrID: "new-cid",
	}).Return(nil)
	s.env.OnActivity("StartExistingContainer", mock.Anything, activity.StartExistingParams{
		Target: target, ContainerID: "old-cid",
	}).Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.State == model.RolloutRolledBack &&
			o.FailedState == model.RolloutHealthChecking &&
			o.ErrorKind == model.ErrHealthCheckTimeout
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestFatalErrorMarksTargetDegraded() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(nil, appErrorForTest(model.ErrFatal, "no space left on device"))

	s.env.OnActivity("MarkTargetDegraded", mock.Anything, mock.MatchedBy(func(params activity.MarkTargetDegradedParams) bool {
		return params.TargetName == "web-1" && params.Reason != ""
	})).Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.State == model.RolloutRolledBack &&
			o.FailedState == model.RolloutPulling &&
			o.ErrorKind == model.ErrFatal
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestStopFirstRemovesPreviousContainer() {
	task := rolloutTask()
	target := rolloutTarget(model.PolicyStopFirst)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(&activity.PullImageResult{}, nil)
	s.env.OnActivity("FindContainer", mock.Anything, mock.Anything).
		Return(&activity.FindContainerResult{
			Found: true, ID: "old-cid", Name: "app-v1.0.0", Running: true,
		}, nil)
	s.env.OnActivity("StopContainer", mock.Anything, mock.Anything).
		Return(&activity.StopContainerResult{Existed: true}, nil)

	// stop_first removes the previous container before starting the new one;
	// nothing is preserved for rollback.
	s.env.OnActivity("RemoveContainer", mock.Anything, activity.RemoveContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(nil).Once()

	s.env.OnActivity("StartContainer", mock.Anything, mock.Anything).
		Return(&activity.StartContainerResult{ContainerID: "new-cid"}, nil)
	s.env.OnActivity("ProbeHealth", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("ClearTargetDegraded", mock.Anything, "web-1").Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.State == model.RolloutCommitted
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestSameTagForcesRemoval() {
	task := rolloutTask()
	task.ArtifactRef = "registry.example.com/myorg/app:v1.0.0"
	target := rolloutTarget(model.PolicySwap)
	s.enqueue(task)

	s.env.OnActivity("GetTarget", mock.Anything, "web-1").Return(&target, nil)
	s.env.OnActivity("ConnectTarget", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("PullImage", mock.Anything, mock.Anything).
		Return(&activity.PullImageResult{}, nil)

	// The previous container already carries the new name. Even under swap
	// it must be removed or the engine rejects the name collision.
	s.env.OnActivity("FindContainer", mock.Anything, mock.Anything).
		Return(&activity.FindContainerResult{
			Found: true, ID: "old-cid", Name: "app-v1.0.0", Running: true,
		}, nil)
	s.env.OnActivity("StopContainer", mock.Anything, mock.Anything).
		Return(&activity.StopContainerResult{Existed: true}, nil)
	s.env.OnActivity("RemoveContainer", mock.Anything, activity.RemoveContainerParams{
		Target: target, NameOrID: "old-cid",
	}).Return(nil).Once()

	s.env.OnActivity("StartContainer", mock.Anything, activity.StartContainerParams{
		Target: target, Name: "app-v1.0.0", Image: task.ArtifactRef,
	}).Return(&activity.StartContainerResult{ContainerID: "new-cid"}, nil)
	s.env.OnActivity("ProbeHealth", mock.Anything, mock.Anything).Return(nil)
	s.env.OnActivity("ClearTargetDegraded", mock.Anything, "web-1").Return(nil)

	s.expectOutcome(task, func(o model.RolloutOutcome) bool {
		return o.State == model.RolloutCommitted
	})

	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *TargetRolloutWorkflowTestSuite) TestIdleCompletesWithoutTasks() {
	s.env.ExecuteWorkflow(TargetRolloutWorkflow, "web-1")
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestTargetRolloutWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(TargetRolloutWorkflowTestSuite))
}

// ---------- PurgeRunsWorkflow ----------

type PurgeRunsWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *PurgeRunsWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *PurgeRunsWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *PurgeRunsWorkflowTestSuite) TestPurgesWithRetentionCutoff() {
	s.env.OnActivity("PurgeRuns", mock.Anything, mock.MatchedBy(func(params activity.PurgeRunsParams) bool {
		return !params.Cutoff.IsZero()
	})).Return(int64(4), nil)

	s.env.ExecuteWorkflow(PurgeRunsWorkflow, 30)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestPurgeRunsWorkflowTestSuite(t *testing.T) {
	suite.Run(t, new(PurgeRunsWorkflowTestSuite))
}
