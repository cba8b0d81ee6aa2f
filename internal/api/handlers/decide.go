package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/power"
)

type DecideHandler struct {
	engine  decision.Engine
	signals decision.SignalEstimator
}

func NewDecideHandler(engine decision.Engine, signals decision.SignalEstimator) *DecideHandler {
	if signals == nil {
		signals = decision.NoSignals{}
	}
	return &DecideHandler{engine: engine, signals: signals}
}

// Decide answers walk/hurry/run for a distance and ETA. signals is a comma
// separated list of expected waits in seconds; when absent the waits are
// estimated from the distance.
func (h *DecideHandler) Decide(w http.ResponseWriter, r *http.Request) {
	distance, ok1 := parseFloatParam(r, "distance", 0)
	eta, ok2 := parseFloatParam(r, "eta", 0)
	if !ok1 || !ok2 || r.URL.Query().Get("eta") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "distance and eta (seconds) must be numbers; eta is required",
		})
		return
	}

	waits := h.signals.Estimate(distance)
	if raw := r.URL.Query().Get("signals"); raw != "" {
		parsed, err := parseWaits(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid signals parameter", err)
			return
		}
		waits = parsed
	}

	d := h.engine.Decide(distance, eta, waits)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"distance": decision.FormatDistance(distance),
		"eta":      decision.FormatDuration(eta),
		"signals":  waits,
		"decision": d,
	})
}

// DecideTransfer answers whether a transfer to the next vehicle can be made
func (h *DecideHandler) DecideTransfer(w http.ResponseWriter, r *http.Request) {
	platform, ok1 := parseFloatParam(r, "platform", 0)
	eta, ok2 := parseFloatParam(r, "eta", 0)
	if !ok1 || !ok2 || r.URL.Query().Get("eta") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "platform (meters) and eta (seconds) must be numbers; eta is required",
		})
		return
	}
	crowd := models.ParseCongestion(r.URL.Query().Get("crowd"))

	d := h.engine.DecideTransfer(platform, eta, crowd)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"crowd":            crowd,
		"transfer_seconds": h.engine.TransferTime(platform, crowd),
		"decision":         d,
	})
}

// Profile returns the sampling profile for a reported power state
func (h *DecideHandler) Profile(w http.ResponseWriter, r *http.Request) {
	battery, ok := parseFloatParam(r, "battery", 1)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid battery parameter",
		})
		return
	}
	state := power.State{
		Charging:        parseBoolParam(r, "charging"),
		Full:            parseBoolParam(r, "full"),
		LowPowerMode:    parseBoolParam(r, "low_power"),
		BatteryFraction: battery,
	}
	if err := validate.Struct(state); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid power state", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"state":      state,
		"profile":    power.Select(state),
		"sufficient": power.Sufficient(state),
	})
}

func parseWaits(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	waits := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		waits = append(waits, v)
	}
	return waits, nil
}
