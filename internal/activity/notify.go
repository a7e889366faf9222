package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/rollout/internal/model"
)

// Notify contains activities for delivering run completion notifications.
type Notify struct {
	client *http.Client
}

// NewNotify creates a new Notify activity struct.
func NewNotify() *Notify {
	return &Notify{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// SendNotificationParams holds parameters for the SendRunNotification activity.
type SendNotificationParams struct {
	URL     string                `json:"url"`
	Payload model.RunNotification `json:"payload"`
}

// SendRunNotification POSTs a JSON payload to the run's notify URL.
//   - 2xx → success (return nil)
//   - 4xx → non-retryable error (client error, don't retry)
//   - 5xx / network error → retryable error (Temporal retries)
func (a *Notify) SendRunNotification(ctx context.Context, params SendNotificationParams) error {
	body, err := json.Marshal(params.Payload)
	if err != nil {
		return temporal.NewNonRetryableApplicationError("marshal notification payload", "MARSHAL_ERROR", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.URL, bytes.NewReader(body))
	if err != nil {
		return temporal.NewNonRetryableApplicationError("create notification request", "REQUEST_ERROR", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification POST to %s: %w", params.URL, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("notification returned %d", resp.StatusCode),
			"CLIENT_ERROR", nil)
	}
	return fmt.Errorf("notification returned %d", resp.StatusCode)
}
