package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/rollout/internal/api/request"
	"github.com/edvin/rollout/internal/api/response"
	"github.com/edvin/rollout/internal/core"
)

type Target struct {
	svc *core.TargetService
}

func NewTarget(svc *core.TargetService) *Target {
	return &Target{svc: svc}
}

func (h *Target) List(w http.ResponseWriter, r *http.Request) {
	targets, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, targets)
}

func (h *Target) Get(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := h.svc.GetByName(r.Context(), name)
	if errors.Is(err, core.ErrTargetNotFound) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, target)
}
