// Package publisher pushes built artifacts to the remote registry and
// verifies the pushed tag is resolvable before reporting success. The
// read-back guards against "push reported success but the tag lags" registry
// propagation failures.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/edvin/rollout/internal/model"
)

// PublishError is returned when an artifact cannot be published. Kind
// separates malformed tags (never attempted), rejected credentials (never
// retried), and transient registry trouble (retried by the pipeline).
type PublishError struct {
	Kind model.ErrorKind
	Msg  string
	Err  error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher uploads a locally built artifact and confirms the tag resolves.
type Publisher interface {
	Publish(ctx context.Context, artifactRef string) (digest string, err error)
}

// pushClient is the slice of the Docker API the publisher needs.
type pushClient interface {
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
	DistributionInspect(ctx context.Context, ref, encodedRegistryAuth string) (registry.DistributionInspect, error)
	Close() error
}

// RegistryPublisher pushes through the local Docker Engine with static
// registry credentials.
type RegistryPublisher struct {
	username string
	password string

	newClient func() (pushClient, error)
}

// NewRegistryPublisher creates a publisher authenticating with the given
// registry credentials.
func NewRegistryPublisher(username, password string) *RegistryPublisher {
	return &RegistryPublisher{
		username: username,
		password: password,
		newClient: func() (pushClient, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
	}
}

// Publish uploads artifactRef and resolves it back from the registry.
// Malformed references fail fast without any registry call.
func (p *RegistryPublisher) Publish(ctx context.Context, artifactRef string) (string, error) {
	if !model.ValidArtifactRef(artifactRef) {
		return "", &PublishError{Kind: model.ErrInvalidInput, Msg: fmt.Sprintf("invalid tag %q", artifactRef)}
	}

	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username: p.username,
		Password: p.password,
	})
	if err != nil {
		return "", &PublishError{Kind: model.ErrInvalidInput, Msg: "encode registry auth", Err: err}
	}

	cli, err := p.newClient()
	if err != nil {
		return "", &PublishError{Kind: model.ErrTransientInfrastructure, Msg: "create docker client", Err: err}
	}
	defer cli.Close()

	reader, err := cli.ImagePush(ctx, artifactRef, image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return "", classifyPush("push "+artifactRef, err)
	}
	defer reader.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(reader, io.Discard, 0, false, nil); err != nil {
		return "", classifyPush("push "+artifactRef, err)
	}

	// Read back the tag to confirm the registry serves it.
	inspect, err := cli.DistributionInspect(ctx, artifactRef, auth)
	if err != nil {
		return "", classifyPush("resolve "+artifactRef, err)
	}
	digest := inspect.Descriptor.Digest.String()
	if digest == "" {
		return "", &PublishError{
			Kind: model.ErrTransientInfrastructure,
			Msg:  fmt.Sprintf("tag %s pushed but not yet resolvable", artifactRef),
		}
	}

	return digest, nil
}

// classifyPush maps registry errors onto the pipeline error taxonomy.
func classifyPush(msg string, err error) *PublishError {
	if errdefs.IsUnauthorized(err) || errdefs.IsForbidden(err) || isAuthMessage(err) {
		return &PublishError{Kind: model.ErrAuthFailure, Msg: msg, Err: err}
	}
	return &PublishError{Kind: model.ErrTransientInfrastructure, Msg: msg, Err: err}
}

// isAuthMessage catches credential rejections that surface inside the push
// progress stream instead of as typed API errors.
func isAuthMessage(err error) bool {
	var jsonErr *jsonmessage.JSONError
	if errors.As(err, &jsonErr) {
		m := strings.ToLower(jsonErr.Message)
		return strings.Contains(m, "unauthorized") ||
			strings.Contains(m, "authentication required") ||
			strings.Contains(m, "denied")
	}
	return false
}
