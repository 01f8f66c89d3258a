package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/accessories", s.handleListAccessories)
		r.Get("/accessories/{uuid}", s.handleGetAccessory)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Put("/accessories/{uuid}/state", s.handleSetAccessoryState)
			r.Post("/accessories/prune", s.handlePruneAccessories)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	HubConnected bool   `json:"hub_connected"`
	Ready        bool   `json:"ready"`
}

// handleHealth reports "ok" once the hub is connected and accessories
// have been reconciled, "degraded" otherwise. It always answers 200 so
// liveness probes do not restart the bridge during a hub outage.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.controller.GetMetrics()
	status := "ok"
	if !m.HubConnected || !m.Ready {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Version:      s.version,
		HubConnected: m.HubConnected,
		Ready:        m.Ready,
	})
}
