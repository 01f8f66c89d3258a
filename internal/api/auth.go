package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin checks the admin credential and returns a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	tok, err := s.auth.Login(req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("failed login", "username", req.Username, "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid credentials")
		return
	case errors.Is(err, auth.ErrLoginDisabled):
		writeUnavailable(w, "login is disabled")
		return
	default:
		s.logger.Error("login failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.recordAudit(r.Context(), &audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: "user",
		EntityID:   req.Username,
		UserID:     req.Username,
		Source:     audit.SourceAPI,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(tok.ExpiresAt).Round(time.Second).Seconds()),
	})
}

// recordAudit writes an audit entry when an audit repository is configured.
func (s *Server) recordAudit(ctx context.Context, entry *audit.Entry) {
	if s.auditRepo == nil {
		return
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", "action", entry.Action, "error", err)
	}
}
