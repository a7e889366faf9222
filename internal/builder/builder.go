// Package builder wraps the external container build tool. The builder is
// stateless and invokes the tool exactly once per call; retries are the
// pipeline's responsibility.
package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/edvin/rollout/internal/model"
)

// BuildError is returned when a build cannot produce an artifact. Kind
// distinguishes bad input (missing source tree, malformed tag) from
// infrastructure trouble.
type BuildError struct {
	Kind model.ErrorKind
	Msg  string
	Err  error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder produces a tagged artifact from a checked-out source tree.
type Builder interface {
	Build(ctx context.Context, sourceRef string) (model.ArtifactReference, error)
}

// buildClient is the slice of the Docker API the builder needs.
type buildClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	Close() error
}

// DockerBuilder builds images with the local Docker Engine. The source tree
// for a given ref is expected at <workspaceDir>/<sourceRef>, materialized by
// an external checkout step.
type DockerBuilder struct {
	workspaceDir string
	dockerfile   string
	repository   string

	newClient func() (buildClient, error)
}

// NewDockerBuilder creates a builder tagging images into repository.
func NewDockerBuilder(workspaceDir, dockerfile, repository string) *DockerBuilder {
	return &DockerBuilder{
		workspaceDir: workspaceDir,
		dockerfile:   dockerfile,
		repository:   repository,
		newClient: func() (buildClient, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
	}
}

// Build runs one image build for sourceRef and returns the resulting
// reference <repository>:<sourceRef>. It never returns a partial reference:
// any build tool failure yields a BuildError.
func (b *DockerBuilder) Build(ctx context.Context, sourceRef string) (model.ArtifactReference, error) {
	ref, err := model.NewArtifactReference(b.repository, sourceRef)
	if err != nil {
		return model.ArtifactReference{}, &BuildError{Kind: model.ErrInvalidInput, Msg: "invalid source ref", Err: err}
	}

	dir := filepath.Join(b.workspaceDir, sourceRef)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return model.ArtifactReference{}, &BuildError{
			Kind: model.ErrInvalidInput,
			Msg:  fmt.Sprintf("source tree for %s not found at %s", sourceRef, dir),
			Err:  err,
		}
	}

	buildContext, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return model.ArtifactReference{}, &BuildError{Kind: model.ErrInvalidInput, Msg: "tar build context", Err: err}
	}
	defer buildContext.Close()

	cli, err := b.newClient()
	if err != nil {
		return model.ArtifactReference{}, &BuildError{Kind: model.ErrTransientInfrastructure, Msg: "create docker client", Err: err}
	}
	defer cli.Close()

	resp, err := cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:       []string{ref.String()},
		Dockerfile: b.dockerfile,
		Remove:     true,
	})
	if err != nil {
		return model.ArtifactReference{}, &BuildError{Kind: model.ErrTransientInfrastructure, Msg: "start image build", Err: err}
	}
	defer resp.Body.Close()

	// The build streams progress as JSON messages; a failing step surfaces
	// as an error message in the stream, not as an HTTP error.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return model.ArtifactReference{}, &BuildError{
			Kind: model.ErrInvalidInput,
			Msg:  fmt.Sprintf("build %s failed", ref.String()),
			Err:  err,
		}
	}

	return ref, nil
}
