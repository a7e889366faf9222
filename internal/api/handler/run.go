package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/rollout/internal/api/request"
	"github.com/edvin/rollout/internal/api/response"
	"github.com/edvin/rollout/internal/core"
)

type Run struct {
	svc *core.RunService
}

func NewRun(svc *core.RunService) *Run {
	return &Run{svc: svc}
}

func (h *Run) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRun
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.svc.Submit(r.Context(), req.Target, req.SourceRef, req.Actor, req.NotifyURL)
	if err != nil {
		response.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, run)
}

func (h *Run) List(w http.ResponseWriter, r *http.Request) {
	p := request.ParsePagination(r)
	targetName := r.URL.Query().Get("target")
	stage := r.URL.Query().Get("stage")

	runs, hasMore, err := h.svc.List(r.Context(), p.Limit, p.Cursor, targetName, stage)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	nextCursor := ""
	if hasMore && len(runs) > 0 {
		nextCursor = runs[len(runs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, runs, nextCursor, hasMore)
}

func (h *Run) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.svc.GetByID(r.Context(), id)
	if errors.Is(err, core.ErrRunNotFound) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, run)
}

func (h *Run) StageResults(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.svc.StageResults(r.Context(), id)
	if errors.Is(err, core.ErrRunNotFound) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, results)
}

func (h *Run) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CancelRun
	if r.ContentLength > 0 {
		if err := request.Decode(r, &req); err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	err = h.svc.Cancel(r.Context(), id, req.Reason)
	if errors.Is(err, core.ErrRunNotFound) {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, core.ErrRunFinished) {
		response.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

// Purge deletes terminal runs older than the olderThanDays query parameter.
func (h *Run) Purge(w http.ResponseWriter, r *http.Request) {
	days := 90
	if d := r.URL.Query().Get("older_than_days"); d != "" {
		v, err := strconv.Atoi(d)
		if err != nil || v < 1 {
			response.WriteError(w, http.StatusBadRequest, "older_than_days must be a positive integer")
			return
		}
		days = v
	}

	removed, err := h.svc.PurgeTerminal(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}
