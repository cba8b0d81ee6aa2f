// Package handlers contains HTTP request handlers
package handlers

import (
	"net/http"
	"time"
)

type HealthHandler struct {
	startTime time.Time
	stops     StopCatalog
}

func NewHealthHandler(stops StopCatalog) *HealthHandler {
	return &HealthHandler{startTime: time.Now(), stops: stops}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"uptime":    time.Since(h.startTime).String(),
		"stops":     h.stops.Count(),
	})
}
