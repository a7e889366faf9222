package activity

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/edvin/rollout/internal/deployer"
	"github.com/edvin/rollout/internal/model"
)

// Rollout contains the per-step activities of the rollout executor's state
// machine. Each activity performs exactly one transition; the target rollout
// workflow sequences them and decides on rollback.
type Rollout struct {
	deployer deployer.Deployer
	probe    *http.Client
}

// NewRollout creates a new Rollout activity struct.
func NewRollout(d deployer.Deployer) *Rollout {
	return &Rollout{
		deployer: d,
		probe:    &http.Client{Timeout: 5 * time.Second},
	}
}

// TargetParams identifies the target for single-step activities.
type TargetParams struct {
	Target model.DeploymentTarget `json:"target"`
}

// ConnectTarget verifies the target's engine endpoint is reachable. A failure
// here is a connection failure, retryable by the caller's policy.
func (a *Rollout) ConnectTarget(ctx context.Context, params TargetParams) error {
	if err := a.deployer.Ping(ctx, &params.Target); err != nil {
		return classify("connect to "+params.Target.Name, err)
	}
	return nil
}

// PullImageParams holds parameters for PullImage.
type PullImageParams struct {
	Target model.DeploymentTarget `json:"target"`
	Image  string                 `json:"image"`
}

// PullImageResult holds the result of PullImage.
type PullImageResult struct {
	Digest string `json:"digest"`
}

// PullImage pulls the artifact on the target host.
func (a *Rollout) PullImage(ctx context.Context, params PullImageParams) (*PullImageResult, error) {
	digest, err := a.deployer.PullImage(ctx, &params.Target, params.Image)
	if err != nil {
		return nil, classify("pull "+params.Image, err)
	}
	return &PullImageResult{Digest: digest}, nil
}

// FindContainerParams holds parameters for FindContainer.
type FindContainerParams struct {
	Target model.DeploymentTarget `json:"target"`
	Prefix string                 `json:"prefix"`
}

// FindContainerResult holds the result of FindContainer.
type FindContainerResult struct {
	Found   bool   `json:"found"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Image   string `json:"image,omitempty"`
	Running bool   `json:"running,omitempty"`
}

// FindContainer locates the currently deployed container on the target.
func (a *Rollout) FindContainer(ctx context.Context, params FindContainerParams) (*FindContainerResult, error) {
	info, err := a.deployer.FindContainer(ctx, &params.Target, params.Prefix)
	if err != nil {
		return nil, classify("find container on "+params.Target.Name, err)
	}
	if info == nil {
		return &FindContainerResult{Found: false}, nil
	}
	return &FindContainerResult{
		Found:   true,
		ID:      info.ID,
		Name:    info.Name,
		Image:   info.Image,
		Running: info.Running,
	}, nil
}

// StopContainerParams holds parameters for StopContainer.
type StopContainerParams struct {
	Target   model.DeploymentTarget `json:"target"`
	NameOrID string                 `json:"name_or_id"`
}

// StopContainerResult holds the result of StopContainer.
type StopContainerResult struct {
	// Existed reports whether there was a container to stop. Stopping a
	// container that does not exist is a successful transition, not an
	// error.
	Existed bool `json:"existed"`
}

// StopContainer stops the named container, tolerating its absence.
func (a *Rollout) StopContainer(ctx context.Context, params StopContainerParams) (*StopContainerResult, error) {
	existed, err := a.deployer.StopContainer(ctx, &params.Target, params.NameOrID)
	if err != nil {
		return nil, classify("stop "+params.NameOrID, err)
	}
	return &StopContainerResult{Existed: existed}, nil
}

// StartContainerParams holds parameters for StartContainer.
type StartContainerParams struct {
	Target model.DeploymentTarget `json:"target"`
	Name   string                 `json:"name"`
	Image  string                 `json:"image"`
}

// StartContainerResult holds the result of StartContainer.
type StartContainerResult struct {
	ContainerID string `json:"container_id"`
	HostPort    int    `json:"host_port"`
}

// StartContainer creates and starts the new container under the target's
// service port binding.
func (a *Rollout) StartContainer(ctx context.Context, params StartContainerParams) (*StartContainerResult, error) {
	result, err := a.deployer.StartContainer(ctx, &params.Target, deployer.ContainerSpec{
		Name:          params.Name,
		Image:         params.Image,
		Env:           params.Target.Env,
		HostPort:      params.Target.ServicePort,
		ContainerPort: params.Target.ContainerPort,
		Network:       params.Target.Network,
	})
	if err != nil {
		return nil, classify("start "+params.Name, err)
	}
	return &StartContainerResult{ContainerID: result.ContainerID, HostPort: result.HostPort}, nil
}

// StartExistingParams holds parameters for StartExistingContainer.
type StartExistingParams struct {
	Target      model.DeploymentTarget `json:"target"`
	ContainerID string                 `json:"container_id"`
}

// StartExistingContainer restarts a previously stopped container. Used by the
// swap policy's rollback to bring the old container back.
func (a *Rollout) StartExistingContainer(ctx context.Context, params StartExistingParams) error {
	if err := a.deployer.StartExisting(ctx, &params.Target, params.ContainerID); err != nil {
		return classify("restart "+params.ContainerID, err)
	}
	return nil
}

// RemoveContainerParams holds parameters for RemoveContainer.
type RemoveContainerParams struct {
	Target   model.DeploymentTarget `json:"target"`
	NameOrID string                 `json:"name_or_id"`
}

// RemoveContainer force-removes the named container, tolerating its absence.
func (a *Rollout) RemoveContainer(ctx context.Context, params RemoveContainerParams) error {
	if _, err := a.deployer.RemoveContainer(ctx, &params.Target, params.NameOrID); err != nil {
		return classify("remove "+params.NameOrID, err)
	}
	return nil
}

// ProbeHealthParams holds parameters for ProbeHealth.
type ProbeHealthParams struct {
	URL          string `json:"url"`
	IntervalSecs int    `json:"interval_secs"`
	TimeoutSecs  int    `json:"timeout_secs"`
}

// ProbeHealth polls the liveness URL until it returns 2xx or the overall
// timeout elapses. A timeout yields a health_check_timeout error, which the
// rollout workflow turns into a rollback rather than a retry.
func (a *Rollout) ProbeHealth(ctx context.Context, params ProbeHealthParams) error {
	interval := time.Duration(params.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	timeout := time.Duration(params.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		if err := a.probeOnce(ctx, params.URL); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if time.Now().Add(interval).After(deadline) {
			return appError(model.ErrHealthCheckTimeout,
				fmt.Sprintf("health check %s did not pass within %s", params.URL, timeout), lastErr)
		}

		select {
		case <-ctx.Done():
			return appError(model.ErrHealthCheckTimeout,
				fmt.Sprintf("health check %s interrupted", params.URL), ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (a *Rollout) probeOnce(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := a.probe.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
