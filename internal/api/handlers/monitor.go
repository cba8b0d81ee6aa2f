package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/monitor"
	"github.com/randytsao24/timeright/internal/power"
)

type MonitorHandler struct {
	engine     *monitor.Engine
	tracker    PositionTracker
	stops      StopCatalog
	newSession SessionFactory
}

func NewMonitorHandler(engine *monitor.Engine, tracker PositionTracker, stops StopCatalog, factory SessionFactory) *MonitorHandler {
	return &MonitorHandler{
		engine:     engine,
		tracker:    tracker,
		stops:      stops,
		newSession: factory,
	}
}

type startRequest struct {
	StopID string       `json:"stop_id" validate:"required"`
	Power  *power.State `json:"power,omitempty"`
}

type positionRequest struct {
	Lat      float64 `json:"lat" validate:"latitude"`
	Lng      float64 `json:"lng" validate:"longitude"`
	Accuracy float64 `json:"accuracy" validate:"gte=0"`
}

type permissionRequest struct {
	Granted bool `json:"granted"`
}

type sessionResponse struct {
	SessionID  string         `json:"session_id"`
	Stop       models.Stop    `json:"stop"`
	Status     monitor.Status `json:"status"`
	IntervalMS int64          `json:"interval_ms"`
	Profile    power.Profile  `json:"profile"`
	StartedAt  time.Time      `json:"started_at"`
	Last       *monitor.Event `json:"last,omitempty"`
}

// Start begins monitoring a stop. The session outlives the request.
func (h *MonitorHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	stop, ok := h.stops.GetByID(req.StopID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "Stop not found",
			"message": "Stop " + req.StopID + " is not in the catalog",
		})
		return
	}

	var src power.Source = power.StaticSource{BatteryFraction: 1}
	if req.Power != nil {
		src = power.StaticSource(*req.Power)
	}

	s := h.newSession(stop, src)
	err := h.engine.Start(context.WithoutCancel(r.Context()), s)
	switch {
	case errors.Is(err, monitor.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "A monitoring session is already running", err)
		return
	case errors.Is(err, monitor.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "Location permission denied", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to start monitoring", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"session": describe(s),
	})
}

// Position records the client's current position
func (h *MonitorHandler) Position(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid position", err)
		return
	}

	accepted := h.tracker.Update(models.Coordinate{Lat: req.Lat, Lng: req.Lng, Accuracy: req.Accuracy})
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"accepted": accepted,
	})
}

// Permission records whether the client granted location access
func (h *MonitorHandler) Permission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.tracker.SetPermission(req.Granted)
	if !req.Granted {
		h.tracker.Reset()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"granted": req.Granted,
	})
}

// Status reports the current or last session
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, ok := h.engine.Current()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  monitor.StatusIdle,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  s.Status(),
		"session": describe(s),
	})
}

// Stop ends the current session
func (h *MonitorHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		writeError(w, http.StatusNotFound, "No monitoring session", err)
		return
	}
	s, _ := h.engine.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": describe(s),
	})
}

func describe(s *monitor.Session) sessionResponse {
	resp := sessionResponse{
		SessionID:  s.ID(),
		Stop:       s.TargetStop(),
		Status:     s.Status(),
		IntervalMS: s.Interval().Milliseconds(),
		Profile:    s.Profile(),
		StartedAt:  s.StartedAt(),
	}
	if ev, ok := s.Last(); ok {
		resp.Last = &ev
	}
	return resp
}
