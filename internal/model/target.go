package model

// RolloutPolicy selects how the rollout executor replaces the running
// container on a target.
//
//   - swap (default): the old container is stopped but preserved until the
//     new one passes its health check; a failed health check restarts it
//   - stop_first: the old container is removed before the new one starts,
//     matching classic stop-then-start deploy scripts; a failed health check
//     after removal may leave the target with no running container
type RolloutPolicy string

const (
	PolicySwap      RolloutPolicy = "swap"
	PolicyStopFirst RolloutPolicy = "stop_first"
)

// DeploymentTarget describes a remote host that runs exactly one deployed
// container. Targets are loaded once at process start from the targets file
// and are immutable for the process lifetime.
type DeploymentTarget struct {
	Name string `json:"name" yaml:"name" validate:"required,slug"`

	// Repository is the source repository this target deploys, used to map
	// push-event webhooks to targets (e.g. "github.com/myorg/app").
	Repository string `json:"repository,omitempty" yaml:"repository"`

	// DockerHost is the Docker Engine endpoint on the target host
	// (e.g. "tcp://10.0.0.5:2376").
	DockerHost string `json:"docker_host" yaml:"docker_host" validate:"required"`

	// Client TLS material for the Docker endpoint. Populated from the
	// *_file fields in the targets file; never serialized into API responses.
	CACertPEM     string `json:"-" yaml:"-"`
	ClientCertPEM string `json:"-" yaml:"-"`
	ClientKeyPEM  string `json:"-" yaml:"-"`

	CACertFile     string `json:"-" yaml:"ca_cert_file"`
	ClientCertFile string `json:"-" yaml:"client_cert_file"`
	ClientKeyFile  string `json:"-" yaml:"client_key_file"`

	// ContainerPrefix is the deterministic container naming convention:
	// the deployed container is named "<prefix>-<tag>".
	ContainerPrefix string `json:"container_prefix" yaml:"container_prefix" validate:"required,slug"`

	// ServicePort is the host port the application is exposed on;
	// ContainerPort is the port the application listens on inside the
	// container.
	ServicePort   int `json:"service_port" yaml:"service_port" validate:"required,min=1,max=65535"`
	ContainerPort int `json:"container_port" yaml:"container_port" validate:"required,min=1,max=65535"`

	// Health check configuration: GET http://<host>:<ServicePort><HealthPath>
	// must return 2xx within HealthTimeoutSecs, polled every
	// HealthIntervalSecs.
	HealthPath         string `json:"health_path" yaml:"health_path" validate:"required,startswith=/"`
	HealthTimeoutSecs  int    `json:"health_timeout_secs" yaml:"health_timeout_secs" validate:"min=0"`
	HealthIntervalSecs int    `json:"health_interval_secs" yaml:"health_interval_secs" validate:"min=0"`

	// Host is the address used for health probes. Defaults to the host part
	// of DockerHost when empty.
	Host string `json:"host,omitempty" yaml:"host"`

	Env     map[string]string `json:"-" yaml:"env"`
	Network string            `json:"-" yaml:"network"`

	Policy RolloutPolicy `json:"rollout_policy" yaml:"rollout_policy" validate:"omitempty,oneof=swap stop_first"`
}

// TargetCondition is the persisted operational state of a target. A target is
// marked degraded when a rollout fails with a fatal remote error.
type TargetCondition struct {
	TargetName string `json:"target"`
	Degraded   bool   `json:"degraded"`
	Reason     string `json:"reason,omitempty"`
}

// RolloutState is a state of the rollout executor's per-invocation state
// machine. Committed is terminal success; any state can transition to
// RolledBack on failure.
type RolloutState string

const (
	RolloutConnecting     RolloutState = "connecting"
	RolloutPulling        RolloutState = "pulling"
	RolloutStopping       RolloutState = "stopping"
	RolloutStarting       RolloutState = "starting"
	RolloutHealthChecking RolloutState = "health_checking"
	RolloutCommitted      RolloutState = "committed"
	RolloutRolledBack     RolloutState = "rolled_back"
)
