package handlers

import (
	"context"

	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/monitor"
	"github.com/randytsao24/timeright/internal/power"
	"github.com/randytsao24/timeright/internal/transit"
)

// StopCatalog abstracts the stop catalog for testability.
type StopCatalog interface {
	FindNearby(lat, lng, radiusMeters float64) []models.StopWithDistance
	FindClosest(lat, lng float64, limit int) []models.StopWithDistance
	GetByID(id string) (models.Stop, bool)
	All() []models.Stop
	Search(query string) []models.Stop
	Count() int
}

// ArrivalProvider abstracts the arrival cache.
type ArrivalProvider interface {
	Get(ctx context.Context, stopID string, distance float64) transit.Arrivals
}

// AlertProvider abstracts the service alerts data source.
type AlertProvider interface {
	GetAlerts(ctx context.Context, routes []string) ([]transit.ServiceAlert, error)
}

// PositionTracker is the client position store sessions read from.
type PositionTracker interface {
	monitor.PositionSource
	Update(c models.Coordinate) bool
	SetPermission(granted bool)
	Reset()
}

// SessionFactory builds an idle monitoring session for a stop.
type SessionFactory func(stop models.Stop, pw power.Source) *monitor.Session
