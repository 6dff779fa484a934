package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/circularmachines/sharedinventory/internal/monitor"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

// MonitorController is the part of the mention monitor driven over HTTP.
type MonitorController interface {
	Status() monitor.Status
	Pause()
	Resume()
	CheckNow() bool
}

// ActivitySource returns recent poll activity, newest first.
type ActivitySource interface {
	GetRecent(limit int) ([]monitor.ActivityEvent, error)
}

// StatusHandler exposes monitor state and the processed set.
type StatusHandler struct {
	mode      string
	monitor   MonitorController
	activity  ActivitySource
	processed repository.ProcessedSet
	runs      repository.RunRepository
	logger    *slog.Logger
}

// NewStatusHandler creates a status handler. mode names the running bot
// and runs may be nil.
func NewStatusHandler(mode string, mon MonitorController, activity ActivitySource, processed repository.ProcessedSet, runs repository.RunRepository, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		monitor:   mon,
		activity:  activity,
		processed: processed,
		runs:      runs,
		logger:    logger,
	}
}

// StatusResponse is returned by GET /api/v1/status and the monitor controls.
type StatusResponse struct {
	Mode      string               `json:"mode"`
	Monitor   monitor.Status       `json:"monitor"`
	Processed int                  `json:"processed"`
	Runs      *repository.RunStats `json:"runs,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

func (h *StatusHandler) snapshot(r *http.Request) StatusResponse {
	resp := StatusResponse{
		Mode:      h.mode,
		Monitor:   h.monitor.Status(),
		Processed: h.processed.Len(),
		Timestamp: time.Now().UTC(),
	}
	if h.runs != nil {
		stats, err := h.runs.Stats(r.Context())
		if err != nil {
			h.logger.Warn("failed to read run stats", "error", err)
		} else {
			resp.Runs = stats
		}
	}
	return resp
}

// Status handles GET /api/v1/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot(r))
}

// Pause handles POST /api/v1/monitor/pause.
func (h *StatusHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.monitor.Pause()
	writeJSON(w, http.StatusOK, h.snapshot(r))
}

// Resume handles POST /api/v1/monitor/resume.
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.monitor.Resume()
	writeJSON(w, http.StatusOK, h.snapshot(r))
}

// CheckNow handles POST /api/v1/monitor/check-now.
func (h *StatusHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	if !h.monitor.CheckNow() {
		writeError(w, http.StatusConflict, "monitor is not running or a check is already pending")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}

// ActivityResponse wraps recent poll events.
type ActivityResponse struct {
	Events []monitor.ActivityEvent `json:"events"`
}

// Activity handles GET /api/v1/activity.
// Query parameters:
//   - limit: max events to return (default 50, max 500)
func (h *StatusHandler) Activity(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit == 0 || limit > 500 {
		limit = 50
	}

	events, err := h.activity.GetRecent(limit)
	if err != nil {
		h.logger.Error("failed to read activity log", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read activity log")
		return
	}
	writeJSON(w, http.StatusOK, ActivityResponse{Events: events})
}

// ProcessedResponse is a page of the processed set in insertion order.
type ProcessedResponse struct {
	Entries []string `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
	HasMore bool     `json:"has_more"`
}

// Processed handles GET /api/v1/processed.
// Query parameters:
//   - limit: max entries to return (default 100, max 1000)
//   - offset: pagination offset
func (h *StatusHandler) Processed(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit == 0 || limit > 1000 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	all := h.processed.List()
	resp := ProcessedResponse{
		Entries: []string{},
		Total:   len(all),
		Limit:   limit,
		Offset:  offset,
	}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		resp.Entries = all[offset:end]
		resp.HasMore = end < len(all)
	}
	writeJSON(w, http.StatusOK, resp)
}
