package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/circularmachines/sharedinventory/internal/downloader"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

var startTime = time.Now()

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	runs        repository.RunRepository
	storagePath string
	freeSpace   func(path string) int64
}

// NewHealthHandler creates a new health handler. runs may be nil when
// no run history is kept.
func NewHealthHandler(runs repository.RunRepository, storagePath string) *HealthHandler {
	return &HealthHandler{
		runs:        runs,
		storagePath: storagePath,
		freeSpace:   downloader.FreeDiskSpace,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string               `json:"status"`
	Timestamp string               `json:"timestamp"`
	Runs      *repository.RunStats `json:"runs,omitempty"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.runs == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.runs.Stats(ctx)
	if err != nil {
		resp.Status = "error"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Runs = stats
	writeJSON(w, http.StatusOK, resp)
}

// SystemStats contains process and storage statistics.
type SystemStats struct {
	Uptime        int64  `json:"uptime_seconds"`
	UptimeHuman   string `json:"uptime_human"`
	MemAllocMB    int64  `json:"mem_alloc_mb"`
	MemSysMB      int64  `json:"mem_sys_mb"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	DiskFreeBytes int64  `json:"disk_free_bytes"`
	StoragePath   string `json:"storage_path"`
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)
	writeJSON(w, http.StatusOK, SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		DiskFreeBytes: h.freeSpace(h.storagePath),
		StoragePath:   h.storagePath,
	})
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
