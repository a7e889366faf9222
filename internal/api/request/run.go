package request

// CreateRun submits a new pipeline run.
type CreateRun struct {
	Target    string  `json:"target" validate:"required,slug"`
	SourceRef string  `json:"source_ref" validate:"required,sourceref"`
	Actor     string  `json:"actor,omitempty" validate:"omitempty,max=128"`
	NotifyURL *string `json:"notify_url,omitempty" validate:"omitempty,url"`
}

// CancelRun requests cancellation of a pending run.
type CancelRun struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=512"`
}

// CreateAPIKey creates a new control plane API key.
type CreateAPIKey struct {
	Name string `json:"name" validate:"required,slug"`
}

// PushEvent is the payload delivered to the push webhook. The repository is
// mapped to a target via the targets file.
type PushEvent struct {
	Repository string `json:"repository" validate:"required"`
	Tag        string `json:"tag" validate:"required,sourceref"`
	Pusher     string `json:"pusher,omitempty" validate:"omitempty,max=128"`
}
