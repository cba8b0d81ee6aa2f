package api

import (
	"net/http"
	"time"

	"github.com/randytsao24/timeright/internal/api/handlers"
	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/monitor"
)

// Deps are the services the HTTP API is built on
type Deps struct {
	Stops      handlers.StopCatalog
	Arrivals   handlers.ArrivalProvider
	Alerts     handlers.AlertProvider
	Tracker    handlers.PositionTracker
	Monitor    *monitor.Engine
	NewSession handlers.SessionFactory
	Decisions  decision.Engine
	Signals    decision.SignalEstimator
	// Metrics is mounted on /metrics when set
	Metrics http.Handler
	// Timeout bounds each request, 15s when zero
	Timeout time.Duration
}

// NewRouter creates and configures the HTTP router with all routes and middleware
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(d.Stops)
	rootHandler := handlers.NewRootHandler()
	locationHandler := handlers.NewLocationHandler(d.Stops)
	transitHandler := handlers.NewTransitHandler(d.Arrivals, d.Alerts, d.Stops)
	decideHandler := handlers.NewDecideHandler(d.Decisions, d.Signals)
	monitorHandler := handlers.NewMonitorHandler(d.Monitor, d.Tracker, d.Stops, d.NewSession)

	// Core routes
	mux.HandleFunc("GET /{$}", rootHandler.Index)
	mux.HandleFunc("GET /api", rootHandler.Index)
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.HandleFunc("/", rootHandler.NotFound)

	// Stop catalog
	mux.HandleFunc("GET /transit/stops", locationHandler.GetStops)
	mux.HandleFunc("GET /transit/stops/near", locationHandler.GetStopsNear)

	// Live data
	mux.HandleFunc("GET /transit/arrivals/{stopId}", transitHandler.GetArrivals)
	mux.HandleFunc("GET /transit/alerts", transitHandler.GetServiceAlerts)

	// One-shot decisions
	mux.HandleFunc("GET /decide", decideHandler.Decide)
	mux.HandleFunc("GET /decide/transfer", decideHandler.DecideTransfer)
	mux.HandleFunc("GET /profile", decideHandler.Profile)

	// Monitoring session
	mux.HandleFunc("POST /monitor/start", monitorHandler.Start)
	mux.HandleFunc("POST /monitor/position", monitorHandler.Position)
	mux.HandleFunc("POST /monitor/permission", monitorHandler.Permission)
	mux.HandleFunc("GET /monitor", monitorHandler.Status)
	mux.HandleFunc("POST /monitor/stop", monitorHandler.Stop)

	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	// Apply middleware stack
	handler := Chain(mux,
		WithRequestID,
		Recovery,
		Logging,
		CORS,
		Timeout(timeout),
	)

	return handler
}
