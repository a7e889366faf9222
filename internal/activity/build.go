package activity

import (
	"context"

	"github.com/edvin/rollout/internal/builder"
)

// Build contains the artifact builder activity. The underlying build tool is
// invoked exactly once per activity execution; the pipeline workflow owns all
// retry decisions, so this activity is registered with a single-attempt
// retry policy.
type Build struct {
	builder builder.Builder
}

// NewBuild creates a new Build activity struct.
func NewBuild(b builder.Builder) *Build {
	return &Build{builder: b}
}

// BuildParams holds parameters for BuildArtifact.
type BuildParams struct {
	RunID     string `json:"run_id"`
	SourceRef string `json:"source_ref"`
}

// BuildResult holds the result of BuildArtifact.
type BuildResult struct {
	ArtifactRef string `json:"artifact_ref"`
}

// BuildArtifact builds the source tree for the run's source ref into a
// tagged image.
func (a *Build) BuildArtifact(ctx context.Context, params BuildParams) (*BuildResult, error) {
	ref, err := a.builder.Build(ctx, params.SourceRef)
	if err != nil {
		return nil, classify("build "+params.SourceRef, err)
	}
	return &BuildResult{ArtifactRef: ref.String()}, nil
}
