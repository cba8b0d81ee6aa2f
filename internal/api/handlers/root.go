package handlers

import (
	"net/http"
)

// Version is reported by /health and /api. Set at build time by the CLI.
var Version = "dev"

type RootHandler struct{}

func NewRootHandler() *RootHandler {
	return &RootHandler{}
}

func (h *RootHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "timeright",
		"description": "Tells you whether to walk, hurry or run for your bus",
		"version":     Version,
		"endpoints": map[string]string{
			"GET /health":                    "Health check",
			"GET /transit/stops":             "Stop catalog",
			"GET /transit/stops/near":        "Stops near lat/lng",
			"GET /transit/arrivals/{stopId}": "Arrivals for a stop (?distance= sets freshness)",
			"GET /transit/alerts":            "Service alerts (?routes=A,C)",
			"GET /decide":                    "Walk/run decision for distance and ETA",
			"GET /decide/transfer":           "Transfer decision for platform distance",
			"GET /profile":                   "Sampling profile for a power state",
			"POST /monitor/start":            "Start monitoring a stop",
			"POST /monitor/position":         "Report the current position",
			"POST /monitor/permission":       "Grant or revoke location access",
			"GET /monitor":                   "Current session status",
			"POST /monitor/stop":             "Stop monitoring",
		},
	})
}

func (h *RootHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":   "Route not found",
		"message": "Check /api for available routes",
	})
}
