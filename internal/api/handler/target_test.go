package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/rollout/internal/core"
)

func newTargetHandler(db *handlerMockDB) *Target {
	return NewTarget(core.NewTargetService(db, handlerTargets()))
}

func TestTargetList(t *testing.T) {
	db := &handlerMockDB{}
	h := newTargetHandler(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&handlerMockRows{scanFuncs: []func(dest ...any) error{
			func(dest ...any) error {
				*(dest[0].(*string)) = "web-1"
				*(dest[1].(*bool)) = true
				*(dest[2].(*string)) = "no space left on device"
				return nil
			},
		}}, nil)

	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodGet, "/targets", "")

	h.List(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded":true`)
	assert.Contains(t, rec.Body.String(), "no space left on device")
	db.AssertExpectations(t)
}

func TestTargetGet_NotFound(t *testing.T) {
	h := newTargetHandler(&handlerMockDB{})

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodGet, "/targets/unknown", ""), "name", "unknown")

	h.Get(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTargetGet_Success(t *testing.T) {
	db := &handlerMockDB{}
	h := newTargetHandler(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&handlerMockRows{}, nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequestRaw(http.MethodGet, "/targets/web-1", ""), "name", "web-1")

	h.Get(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"web-1"`)
	db.AssertExpectations(t)
}
