package deployer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/edvin/rollout/internal/model"
)

// engineClient is the slice of the Docker Engine API the deployer needs.
type engineClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerDeployer implements Deployer against the Docker Engine API of each
// target host.
type DockerDeployer struct {
	newClient func(target *model.DeploymentTarget) (engineClient, error)
}

// NewDockerDeployer creates a new DockerDeployer.
func NewDockerDeployer() *DockerDeployer {
	return &DockerDeployer{newClient: dialEngine}
}

func dialEngine(target *model.DeploymentTarget) (engineClient, error) {
	opts := []client.Opt{
		client.WithHost(target.DockerHost),
		client.WithAPIVersionNegotiation(),
	}

	if target.CACertPEM != "" && target.ClientCertPEM != "" && target.ClientKeyPEM != "" {
		cert, err := tls.X509KeyPair([]byte(target.ClientCertPEM), []byte(target.ClientKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse client cert: %w", err)
		}

		caCertPool := x509.NewCertPool()
		caCertPool.AppendCertsFromPEM([]byte(target.CACertPEM))

		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caCertPool,
		}
		httpClient := &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
		}
		opts = append(opts, client.WithHTTPClient(httpClient))
	}

	return client.NewClientWithOpts(opts...)
}

func (d *DockerDeployer) Ping(ctx context.Context, target *model.DeploymentTarget) error {
	cli, err := d.newClient(target)
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if _, err := cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", target.DockerHost, err)
	}
	return nil
}

func (d *DockerDeployer) PullImage(ctx context.Context, target *model.DeploymentTarget, img string) (string, error) {
	cli, err := d.newClient(target)
	if err != nil {
		return "", fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	reader, err := cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	// Drain the pull output.
	_, _ = io.Copy(io.Discard, reader)

	inspect, _, err := cli.ImageInspectWithRaw(ctx, img)
	if err != nil {
		return "", fmt.Errorf("inspect image %s: %w", img, err)
	}

	digest := ""
	if len(inspect.RepoDigests) > 0 {
		digest = inspect.RepoDigests[0]
	}
	return digest, nil
}

func (d *DockerDeployer) FindContainer(ctx context.Context, target *model.DeploymentTarget, prefix string) (*ContainerInfo, error) {
	cli, err := d.newClient(target)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "/"+prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers on %s: %w", target.Name, err)
	}
	if len(containers) == 0 {
		return nil, nil
	}

	// The list is sorted newest-first; the newest match is the deployed one.
	c := containers[0]
	name := ""
	if len(c.Names) > 0 {
		name = c.Names[0]
		if name[0] == '/' {
			name = name[1:]
		}
	}
	return &ContainerInfo{
		ID:      c.ID,
		Name:    name,
		Image:   c.Image,
		Running: c.State == "running",
	}, nil
}

func (d *DockerDeployer) StartContainer(ctx context.Context, target *model.DeploymentTarget, spec ContainerSpec) (*StartResult, error) {
	cli, err := d.newClient(target)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	cp := nat.Port(strconv.Itoa(spec.ContainerPort) + "/tcp")
	hostPort := strconv.Itoa(spec.HostPort)
	if spec.HostPort == 0 {
		hostPort = "" // let the engine pick an ephemeral port
	}

	config := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: nat.PortSet{cp: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{cp: []nat.PortBinding{{HostPort: hostPort}}},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}

	var networkConfig *network.NetworkingConfig
	if spec.Network != "" {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %s: %w", spec.Name, err)
	}

	result := &StartResult{ContainerID: resp.ID, HostPort: spec.HostPort}

	// Inspect to resolve the actual port when an ephemeral one was requested.
	if spec.HostPort == 0 {
		info, err := cli.ContainerInspect(ctx, resp.ID)
		if err == nil {
			if bindings := info.NetworkSettings.Ports[cp]; len(bindings) > 0 {
				result.HostPort, _ = strconv.Atoi(bindings[0].HostPort)
			}
		}
	}

	return result, nil
}

func (d *DockerDeployer) StartExisting(ctx context.Context, target *model.DeploymentTarget, containerID string) error {
	cli, err := d.newClient(target)
	if err != nil {
		return fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", containerID, err)
	}
	return nil
}

func (d *DockerDeployer) StopContainer(ctx context.Context, target *model.DeploymentTarget, nameOrID string) (bool, error) {
	cli, err := d.newClient(target)
	if err != nil {
		return false, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerStop(ctx, nameOrID, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stop container %s: %w", nameOrID, err)
	}
	return true, nil
}

func (d *DockerDeployer) RemoveContainer(ctx context.Context, target *model.DeploymentTarget, nameOrID string) (bool, error) {
	cli, err := d.newClient(target)
	if err != nil {
		return false, fmt.Errorf("create docker client: %w", err)
	}
	defer cli.Close()

	if err := cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove container %s: %w", nameOrID, err)
	}
	return true, nil
}
