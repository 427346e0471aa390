package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/runout/internal/adapters/repository"
	service "github.com/okian/runout/internal/app"
)

const defaultListLimit = 20

// RunDependencies defines the run operations the handlers need.
type RunDependencies interface {
	Submit(ctx context.Context, req service.Request) (repository.Run, bool, error)
	Get(ctx context.Context, id string) (repository.Run, error)
	List(ctx context.Context, limit int) ([]repository.Run, error)
}

// RunsHandler handles /runs requests.
type RunsHandler struct {
	deps     RunDependencies
	maxLimit int
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps RunDependencies, maxLimit int) *RunsHandler {
	if maxLimit < 1 {
		maxLimit = defaultListLimit
	}
	return &RunsHandler{deps: deps, maxLimit: maxLimit}
}

// HandleSubmit handles POST /runs. A new run answers 202; a run id that is
// already known answers 200 with the existing record.
func (h *RunsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_run"
	var req runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	run, created, err := h.deps.Submit(r.Context(), req.toService())
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", wrapKind(op, ErrUnavailable, err))
		return
	case errors.Is(err, service.ErrRejected):
		writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}

	resp := toResponse(run)
	if !created {
		resp.Duplicate = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// HandleList handles GET /runs?limit=N, newest first.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_runs"
	n := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("limit must be a positive integer")))
			return
		}
		n = v
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", wrapKind(op, ErrBadRequest, errors.New("limit exceeds maximum "+strconv.Itoa(h.maxLimit))))
		return
	}

	runs, err := h.deps.List(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, toResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /runs/{id}.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_run"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("missing run id")))
		return
	}
	run, err := h.deps.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", wrap(op, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, toResponse(run))
}
