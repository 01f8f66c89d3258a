package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/platform"
)

// setStateRequest is the body of PUT /accessories/{uuid}/state.
type setStateRequest struct {
	On *bool `json:"on"`
}

// handleListAccessories returns every accessory ordered by name.
func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	list := s.controller.Accessories()
	writeJSON(w, http.StatusOK, map[string]any{
		"accessories": list,
		"count":       len(list),
	})
}

// handleGetAccessory returns one accessory.
func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	status, err := s.controller.Accessory(chi.URLParam(r, "uuid"))
	if err != nil {
		writeNotFound(w, "accessory not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSetAccessoryState switches an accessory. It answers once the hub
// accepted the value; the state itself is updated when the hub reports it.
func (s *Server) handleSetAccessoryState(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeBadRequest(w, `"on" is required`)
		return
	}

	err := s.controller.SetSwitch(r.Context(), uuid, *req.On, audit.SourceAPI)
	switch {
	case err == nil:
	case errors.Is(err, platform.ErrAccessoryNotFound):
		writeNotFound(w, "accessory not found")
		return
	case errors.Is(err, platform.ErrAccessoryNotWired):
		writeConflict(w, "accessory has no hub device yet")
		return
	case errors.Is(err, almond.ErrNotConnected), errors.Is(err, almond.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeUnavailable(w, "hub unavailable")
		return
	default:
		s.logger.Warn("set accessory state failed", "uuid", uuid, "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "hub rejected the change")
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}
	s.logger.Info("accessory switched via API", "uuid", uuid, "on", *req.On, "user", subject)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"uuid":   uuid,
		"on":     *req.On,
		"status": "accepted",
	})
}

// handlePruneAccessories removes accessories no hub device claims.
func (s *Server) handlePruneAccessories(w http.ResponseWriter, r *http.Request) {
	n, err := s.controller.PruneAccessories(r.Context())
	if err != nil {
		s.logger.Error("prune failed", "error", err, "removed", n)
		writeInternalError(w, "prune failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}
