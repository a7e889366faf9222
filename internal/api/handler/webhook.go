package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/edvin/rollout/internal/api/request"
	"github.com/edvin/rollout/internal/api/response"
	"github.com/edvin/rollout/internal/core"
)

// maxWebhookBody bounds webhook payloads; push events are tiny.
const maxWebhookBody = 1 << 20

// Webhook receives push events from the source registry or CI and turns them
// into pipeline runs. Authentication is an HMAC-SHA256 signature over the
// request body rather than an API key, matching how forges sign deliveries.
type Webhook struct {
	runs    *core.RunService
	targets *core.TargetService
	secret  string
}

func NewWebhook(runs *core.RunService, targets *core.TargetService, secret string) *Webhook {
	return &Webhook{runs: runs, targets: targets, secret: secret}
}

func (h *Webhook) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	if !h.verifySignature(r.Header.Get("X-Hub-Signature-256"), body) {
		response.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var event request.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := request.Validate(&event); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, ok := h.targets.FindByRepository(event.Repository)
	if !ok {
		// Not an error: pushes to repositories we don't deploy are expected.
		response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	actor := event.Pusher
	if actor == "" {
		actor = "webhook"
	}

	run, err := h.runs.Submit(r.Context(), target.Name, event.Tag, actor, nil)
	if err != nil {
		response.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, run)
}

// verifySignature checks the "sha256=<hex>" signature header against the
// body using the shared webhook secret.
func (h *Webhook) verifySignature(header string, body []byte) bool {
	if h.secret == "" || header == "" {
		return false
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig))
}
