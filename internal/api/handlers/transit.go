package handlers

import (
	"net/http"
	"strings"
)

type TransitHandler struct {
	arrivals ArrivalProvider
	alerts   AlertProvider
	stops    StopCatalog
}

func NewTransitHandler(arrivals ArrivalProvider, alerts AlertProvider, stops StopCatalog) *TransitHandler {
	return &TransitHandler{
		arrivals: arrivals,
		alerts:   alerts,
		stops:    stops,
	}
}

// GetArrivals returns arrivals for a stop. The optional distance parameter
// (meters from the stop) decides how fresh the data has to be.
func (h *TransitHandler) GetArrivals(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("stopId")
	stop, ok := h.stops.GetByID(stopID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "Stop not found",
			"message": "Stop " + stopID + " is not in the catalog",
		})
		return
	}

	distance, ok := parseFloatParam(r, "distance", -1)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid distance parameter",
		})
		return
	}

	arrivals := h.arrivals.Get(r.Context(), stop.ID, distance)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"stop":        stop,
		"arrivals":    arrivals.Records,
		"count":       len(arrivals.Records),
		"cache":       arrivals.Result,
		"ttl_seconds": int(arrivals.TTL.Seconds()),
		"default":     arrivals.Default,
	})
}

// GetServiceAlerts returns active service alerts, optionally filtered by route
func (h *TransitHandler) GetServiceAlerts(w http.ResponseWriter, r *http.Request) {
	routesParam := r.URL.Query().Get("routes")
	var routes []string
	if routesParam != "" {
		routes = strings.Split(routesParam, ",")
	}

	alerts, err := h.alerts.GetAlerts(r.Context(), routes)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to fetch service alerts", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"alerts":  alerts,
		"count":   len(alerts),
	})
}
