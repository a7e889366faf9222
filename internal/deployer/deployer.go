package deployer

import (
	"context"

	"github.com/edvin/rollout/internal/model"
)

// ContainerSpec holds the options for creating the deployed container on a
// target.
type ContainerSpec struct {
	Name  string
	Image string
	Env   map[string]string
	// HostPort 0 lets the engine pick an ephemeral port.
	HostPort      int
	ContainerPort int
	Network       string
}

// StartResult holds the result of creating and starting a container.
type StartResult struct {
	ContainerID string
	// HostPort is the actual bound host port (relevant when an ephemeral
	// port was requested).
	HostPort int
}

// ContainerInfo describes a container found on a target.
type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Running bool
}

// Deployer is the remote-execution collaborator: every mutation of a target's
// running container goes through this interface, never around it.
type Deployer interface {
	// Ping verifies the target's engine endpoint is reachable and
	// authenticated.
	Ping(ctx context.Context, target *model.DeploymentTarget) error
	// PullImage pulls an image on the target and returns its repo digest.
	PullImage(ctx context.Context, target *model.DeploymentTarget, image string) (digest string, err error)
	// FindContainer locates the newest container whose name starts with
	// prefix. Returns nil when no such container exists.
	FindContainer(ctx context.Context, target *model.DeploymentTarget, prefix string) (*ContainerInfo, error)
	// StartContainer creates and starts a container from spec.
	StartContainer(ctx context.Context, target *model.DeploymentTarget, spec ContainerSpec) (*StartResult, error)
	// StartExisting restarts a previously stopped container.
	StartExisting(ctx context.Context, target *model.DeploymentTarget, containerID string) error
	// StopContainer stops a container. Stopping a container that does not
	// exist is not an error; it reports existed=false.
	StopContainer(ctx context.Context, target *model.DeploymentTarget, nameOrID string) (existed bool, err error)
	// RemoveContainer force-removes a container. Removing a container that
	// does not exist is not an error.
	RemoveContainer(ctx context.Context, target *model.DeploymentTarget, nameOrID string) (existed bool, err error)
}
