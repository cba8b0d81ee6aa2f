package handlers

import (
	"net/http"
	"strconv"

	"github.com/randytsao24/timeright/internal/models"
)

const (
	defaultRadius = 800 // meters
	maxRadius     = 5000
	minRadius     = 50
	defaultLimit  = 5
	maxLimit      = 20
)

type LocationHandler struct {
	stops StopCatalog
}

func NewLocationHandler(stops StopCatalog) *LocationHandler {
	return &LocationHandler{stops: stops}
}

// GetStops returns the stop catalog, filtered by name when q is set
func (h *LocationHandler) GetStops(w http.ResponseWriter, r *http.Request) {
	var stops []models.Stop
	if q := r.URL.Query().Get("q"); q != "" {
		stops = h.stops.Search(q)
	} else {
		stops = h.stops.All()
	}
	if stops == nil {
		stops = []models.Stop{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stops":   stops,
		"count":   len(stops),
	})
}

// GetStopsNear finds stops within radius of lat/lng, closest first
func (h *LocationHandler) GetStopsNear(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseCoords(w, r)
	if !ok {
		return
	}

	radius := parseIntParam(r, "radius", defaultRadius, minRadius, maxRadius)
	limit := parseIntParam(r, "limit", defaultLimit, 1, maxLimit)

	stops := h.stops.FindNearby(lat, lng, float64(radius))
	if len(stops) > limit {
		stops = stops[:limit]
	}

	resp := map[string]any{
		"success":       true,
		"lat":           lat,
		"lng":           lng,
		"radius_meters": radius,
		"stops":         stops,
		"count":         len(stops),
	}
	if len(stops) == 0 {
		resp["message"] = "No stops found within radius"
		if closest := h.stops.FindClosest(lat, lng, 1); len(closest) > 0 {
			resp["closest"] = closest[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseCoords(w http.ResponseWriter, r *http.Request) (lat, lng float64, ok bool) {
	latStr := r.URL.Query().Get("lat")
	lngStr := r.URL.Query().Get("lng")

	if latStr == "" || lngStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "lat and lng query parameters are required",
		})
		return 0, 0, false
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid lat parameter",
		})
		return 0, 0, false
	}

	lng, err = strconv.ParseFloat(lngStr, 64)
	if err != nil || lng < -180 || lng > 180 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": "Invalid lng parameter",
		})
		return 0, 0, false
	}
	return lat, lng, true
}
