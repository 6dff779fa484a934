package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

var runStates = map[domain.RunState]bool{
	domain.RunStateFetching:        true,
	domain.RunStateThreadResolved:  true,
	domain.RunStateDedupChecked:    true,
	domain.RunStateMediaChecked:    true,
	domain.RunStateDownloading:     true,
	domain.RunStateVideoProcessed:  true,
	domain.RunStatePromptComposed:  true,
	domain.RunStateModelCalled:     true,
	domain.RunStateReplied:         true,
	domain.RunStateMarkedProcessed: true,
	domain.RunStateDone:            true,
	domain.RunStateFailed:          true,
}

// RunsHandler serves pipeline run history.
type RunsHandler struct {
	runs   repository.RunRepository
	logger *slog.Logger
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(runs repository.RunRepository, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{runs: runs, logger: logger}
}

// RunListResponse is a page of runs, newest first.
type RunListResponse struct {
	Runs   []*domain.RunRecord `json:"runs"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// List handles GET /api/v1/runs
// Query parameters:
//   - state: filter by run state (done, failed, ...)
//   - mention_uri: filter by mention
//   - limit: max runs to return (default 50, max 500)
//   - offset: pagination offset
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := repository.RunFilter{
		MentionURI: r.URL.Query().Get("mention_uri"),
		Limit:      queryInt(r, "limit", 50),
		Offset:     queryInt(r, "offset", 0),
	}
	if s := r.URL.Query().Get("state"); s != "" {
		state := domain.RunState(s)
		if !runStates[state] {
			writeError(w, http.StatusBadRequest, "unknown run state: "+s)
			return
		}
		filter.State = &state
	}

	runs, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Runs:   runs,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Get handles GET /api/v1/runs/{runID}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := domain.RunID(chi.URLParam(r, "runID"))

	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
