package model

import (
	"fmt"
	"regexp"
)

// artifactRefRegex matches a registry coordinate of the form
// "repository/name:tag". The repository part may contain registry host
// segments separated by dots, dashes, or underscores.
var artifactRefRegex = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*(?:/[a-z0-9]+(?:[._-][a-z0-9]+)*)+:[a-zA-Z0-9_][a-zA-Z0-9_.-]{0,127}$`)

// ArtifactReference is the registry coordinate of a built image. It is
// produced by the builder, published by the publisher, and pulled by the
// rollout executor; all three treat it as an opaque, comparable value.
type ArtifactReference struct {
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
}

// NewArtifactReference builds and validates a reference from a repository and
// tag. Malformed coordinates are rejected before any registry call is made.
func NewArtifactReference(repository, tag string) (ArtifactReference, error) {
	ref := ArtifactReference{Repository: repository, Tag: tag}
	if !ValidArtifactRef(ref.String()) {
		return ArtifactReference{}, fmt.Errorf("invalid artifact reference %q", ref.String())
	}
	return ref, nil
}

// ValidArtifactRef reports whether s is a well-formed "repository/name:tag"
// registry coordinate.
func ValidArtifactRef(s string) bool {
	return artifactRefRegex.MatchString(s)
}

func (a ArtifactReference) String() string {
	return a.Repository + ":" + a.Tag
}
