package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/almond-bridge/internal/almond"
)

// deviceView is a hub device as returned by the API.
type deviceView struct {
	almond.Device
	Supported bool `json:"supported"`
}

// handleListDevices returns the hub's device cache.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.almond.Devices()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceView{Device: d, Supported: d.Supported()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":   out,
		"count":     len(out),
		"connected": s.almond.IsConnected(),
	})
}

// handleGetDevice returns one hub device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.almond.Device(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, deviceView{Device: d, Supported: d.Supported()})
}
