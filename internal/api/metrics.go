package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/almond-bridge/internal/platform"
)

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     HubStats         `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Hub           almond.Stats     `json:"hub"`
	Controller    platform.Metrics `json:"controller"`
	Accessories   *accessory.Stats `json:"accessories,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled bool `json:"enabled"`
	mqtt.Stats
}

// handleMetrics returns runtime, hub and controller metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket:  s.hub.Stats(),
		Hub:        s.almond.Stats(),
		Controller: s.controller.GetMetrics(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Stats: s.mqtt.Stats()}
	}
	if s.registry != nil {
		stats := s.registry.GetStats()
		metrics.Accessories = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}
