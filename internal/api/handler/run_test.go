package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalmocks "go.temporal.io/sdk/mocks"

	"github.com/edvin/rollout/internal/core"
	"github.com/edvin/rollout/internal/model"
)

func handlerTargets() []model.DeploymentTarget {
	return []model.DeploymentTarget{
		{
			Name:            "web-1",
			Repository:      "github.com/myorg/app",
			DockerHost:      "tcp://web-1.internal:2376",
			ContainerPrefix: "app",
			ServicePort:     8080,
			ContainerPort:   8080,
			HealthPath:      "/healthz",
		},
	}
}

func newRunHandler(db *handlerMockDB, tc *temporalmocks.Client) *Run {
	return NewRun(core.NewRunService(db, tc, handlerTargets()))
}

func scanRunRow(id string, stage model.RunStage) func(dest ...any) error {
	now := time.Now()
	return func(dest ...any) error {
		*(dest[0].(*string)) = id
		*(dest[1].(*string)) = "web-1"
		*(dest[2].(*string)) = "v1.2.3"
		*(dest[3].(*string)) = "alice"
		*(dest[4].(**string)) = nil
		*(dest[5].(*model.RunStage)) = stage
		*(dest[6].(**string)) = nil
		*(dest[7].(**model.ErrorKind)) = nil
		*(dest[8].(**string)) = nil
		*(dest[9].(*time.Time)) = now
		*(dest[10].(*time.Time)) = now
		*(dest[11].(**time.Time)) = nil
		return nil
	}
}

// --- Create ---

func TestRunCreate_InvalidJSON(t *testing.T) {
	h := newRunHandler(&handlerMockDB{}, &temporalmocks.Client{})
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/runs", "{bad json")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestRunCreate_MissingRequiredFields(t *testing.T) {
	h := newRunHandler(&handlerMockDB{}, &temporalmocks.Client{})
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/runs", map[string]any{})

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestRunCreate_InvalidTargetSlug(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"uppercase", "Web-1"},
		{"spaces", "web 1"},
		{"special chars", "web@1"},
		{"starts with digit", "1web"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRunHandler(&handlerMockDB{}, &temporalmocks.Client{})
			rec := httptest.NewRecorder()
			r := newRequest(http.MethodPost, "/runs", map[string]any{
				"target":     tt.target,
				"source_ref": "v1.2.3",
			})

			h.Create(rec, r)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRunCreate_UnknownTarget(t *testing.T) {
	h := newRunHandler(&handlerMockDB{}, &temporalmocks.Client{})
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/runs", map[string]any{
		"target":     "nonexistent",
		"source_ref": "v1.2.3",
	})

	h.Create(rec, r)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "unknown target")
}

func TestRunCreate_Success(t *testing.T) {
	db := &handlerMockDB{}
	tc := &temporalmocks.Client{}
	h := newRunHandler(db, tc)

	row := &handlerMockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*time.Time)) = time.Now()
		*(dest[1].(*time.Time)) = time.Now()
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "DeployPipelineWorkflow", mock.Anything).Return(wfRun, nil)

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/runs", map[string]any{
		"target":     "web-1",
		"source_ref": "v1.2.3",
		"actor":      "alice",
	})

	h.Create(rec, r)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	db.AssertExpectations(t)
	tc.AssertExpectations(t)
}

// --- Get ---

func TestRunGet_NotFound(t *testing.T) {
	db := &handlerMockDB{}
	h := newRunHandler(db, &temporalmocks.Client{})

	row := &handlerMockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodGet, "/runs/missing", ""), "id", "missing")

	h.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	db.AssertExpectations(t)
}

func TestRunGet_Success(t *testing.T) {
	db := &handlerMockDB{}
	h := newRunHandler(db, &temporalmocks.Client{})

	row := &handlerMockRow{scanFunc: scanRunRow("run-1", model.StageBuilding)}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodGet, "/runs/run-1", ""), "id", "run-1")

	h.Get(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run-1"`)
	db.AssertExpectations(t)
}

// --- Cancel ---

func TestRunCancel_FinishedRunConflicts(t *testing.T) {
	db := &handlerMockDB{}
	h := newRunHandler(db, &temporalmocks.Client{})

	row := &handlerMockRow{scanFunc: scanRunRow("run-1", model.StageSucceeded)}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodPost, "/runs/run-1/cancel", ""), "id", "run-1")

	h.Cancel(rec, r)

	assert.Equal(t, http.StatusConflict, rec.Code)
	db.AssertExpectations(t)
}

func TestRunCancel_SignalsPipeline(t *testing.T) {
	db := &handlerMockDB{}
	tc := &temporalmocks.Client{}
	h := newRunHandler(db, tc)

	row := &handlerMockRow{scanFunc: scanRunRow("run-1", model.StageBuilding)}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)
	tc.On("SignalWorkflow", mock.Anything, model.PipelineWorkflowID("run-1"), "",
		model.CancelSignalName, mock.Anything).Return(nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/runs/run-1/cancel",
		map[string]any{"reason": "bad release"}), "id", "run-1")

	h.Cancel(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	db.AssertExpectations(t)
	tc.AssertExpectations(t)
}

// --- Purge ---

func TestRunPurge_RejectsBadDays(t *testing.T) {
	h := newRunHandler(&handlerMockDB{}, &temporalmocks.Client{})

	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodDelete, "/runs?older_than_days=zero", "")

	h.Purge(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
