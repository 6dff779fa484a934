// Package api wires the HTTP status API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/circularmachines/sharedinventory/internal/api/handler"
	mw "github.com/circularmachines/sharedinventory/internal/api/middleware"
)

// Handlers groups the route handlers. Runs, Inventory and Metrics are optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Runs      *handler.RunsHandler
	Inventory *handler.InventoryHandler
	Metrics   http.Handler
}

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h Handlers, apiKey string, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	// Probes and scraping stay unauthenticated.
	r.Get("/health", h.Health.Live)
	r.Get("/ready", h.Health.Ready)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(apiKey))

		r.Get("/stats", h.Health.Stats)
		r.Get("/status", h.Status.Status)
		r.Get("/activity", h.Status.Activity)
		r.Get("/processed", h.Status.Processed)

		r.Post("/monitor/pause", h.Status.Pause)
		r.Post("/monitor/resume", h.Status.Resume)
		r.Post("/monitor/check-now", h.Status.CheckNow)

		if h.Runs != nil {
			r.Get("/runs", h.Runs.List)
			r.Get("/runs/{runID}", h.Runs.Get)
		}

		if h.Inventory != nil {
			r.Get("/inventory/members", h.Inventory.Members)
			r.Get("/inventory/items", h.Inventory.Items)
		}
	})

	return r
}
