// Package api exposes the run service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/runout/internal/adapters/repository"
	service "github.com/okian/runout/internal/app"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	RunDependencies
	StatsProvider
	// Ready reports whether submissions are accepted.
	Ready() bool
}

// Server wires HTTP routes for the run API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	runsHandler   *RunsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, maxLimit int) *Server {
	return &Server{
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(deps),
		runsHandler:   NewRunsHandler(deps, maxLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /runs", MetricsMiddleware(s.runsHandler.HandleSubmit, "runs_submit"))
	mux.HandleFunc("GET /runs", MetricsMiddleware(s.runsHandler.HandleList, "runs_list"))
	mux.HandleFunc("GET /runs/{id}", MetricsMiddleware(s.runsHandler.HandleGet, "runs_get"))
}

// runRequest is the body of POST /runs.
type runRequest struct {
	RunID      string  `json:"run_id"`
	Class      string  `json:"class"`
	Multiplier float64 `json:"multiplier"`
}

func (r runRequest) toService() service.Request {
	return service.Request{RunID: r.RunID, Class: r.Class, Multiplier: r.Multiplier}
}

// runResponse is the read shape of a ledger record.
type runResponse struct {
	ID             string      `json:"id"`
	State          string      `json:"state"`
	Class          string      `json:"class"`
	Multiplier     float64     `json:"multiplier"`
	WorkDir        string      `json:"work_dir"`
	Volume         float64     `json:"volume"`
	ScaledVolume   float64     `json:"scaled_volume"`
	FootprintCells int         `json:"footprint_cells"`
	DilatedCells   int         `json:"dilated_cells"`
	ClippedCells   int         `json:"clipped_cells"`
	FineFlowCells  int         `json:"fine_flow_cells"`
	FineEdgeCells  int         `json:"fine_edge_cells"`
	EngineCalls    int         `json:"engine_calls"`
	Extent         *[4]float64 `json:"extent,omitempty"`
	FineMaxHeight  string      `json:"fine_max_height,omitempty"`
	Error          string      `json:"error,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Duplicate      bool        `json:"duplicate,omitempty"`
}

func toResponse(run repository.Run) runResponse { //nolint:gocritic // hugeParam
	resp := runResponse{
		ID:             run.ID,
		State:          run.State,
		Class:          run.Class,
		Multiplier:     run.Multiplier,
		WorkDir:        run.WorkDir,
		Volume:         run.Volume,
		ScaledVolume:   run.ScaledVolume,
		FootprintCells: run.FootprintCells,
		DilatedCells:   run.DilatedCells,
		ClippedCells:   run.ClippedCells,
		FineFlowCells:  run.FineFlowCells,
		FineEdgeCells:  run.FineEdgeCells,
		EngineCalls:    run.EngineCalls,
		FineMaxHeight:  run.FineMaxHeight,
		Error:          run.Error,
		SubmittedAt:    run.SubmittedAt,
		UpdatedAt:      run.UpdatedAt,
	}
	if e := run.Extent; e.Width() > 0 && e.Height() > 0 {
		resp.Extent = &[4]float64{e.Min.X, e.Min.Y, e.Max.X, e.Max.Y}
	}
	return resp
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
