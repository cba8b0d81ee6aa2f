// Package metrics exposes Prometheus counters for the cache, the monitoring
// loop and decision delivery
package metrics

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randytsao24/timeright/internal/cache"
	"github.com/randytsao24/timeright/internal/decision"
)

type Collector struct {
	reg *prometheus.Registry

	CacheGets          *prometheus.CounterVec // cache, result labels
	CacheRevalidations *prometheus.CounterVec // cache, outcome labels
	CacheFetchErrors   *prometheus.CounterVec // cache label

	Ticks          prometheus.Counter
	TickErrors     prometheus.Counter
	TickDuration   prometheus.Histogram
	PollInterval   prometheus.Gauge // seconds
	Decisions      *prometheus.CounterVec // action label
	ActiveSessions prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheGets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeright_cache_gets_total",
			Help: "Cache reads by the path that served them.",
		}, []string{"cache", "result"}),
		CacheRevalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeright_cache_revalidations_total",
			Help: "Background revalidations by outcome.",
		}, []string{"cache", "outcome"}),
		CacheFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeright_cache_fetch_errors_total",
			Help: "Failed upstream fetches.",
		}, []string{"cache"}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeright_monitor_ticks_total",
			Help: "Monitoring checks run.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeright_monitor_tick_errors_total",
			Help: "Monitoring checks that failed or panicked.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeright_monitor_tick_duration_seconds",
			Help:    "Duration of one monitoring check.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeright_monitor_interval_seconds",
			Help: "Current distance-based polling interval.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeright_decisions_total",
			Help: "Published decisions by action.",
		}, []string{"action"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeright_monitor_active_sessions",
			Help: "1 while a monitoring session runs, 0 otherwise.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeright_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeright_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeright_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		c.CacheGets, c.CacheRevalidations, c.CacheFetchErrors,
		c.Ticks, c.TickErrors, c.TickDuration, c.PollInterval, c.Decisions, c.ActiveSessions,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}

// Cache returns an observer that records events under the given cache name
func (c *Collector) Cache(name string) cache.Observer {
	return cacheObserver{c: c, name: name}
}

type cacheObserver struct {
	c    *Collector
	name string
}

func (o cacheObserver) ObserveGet(r cache.Result) {
	o.c.CacheGets.WithLabelValues(o.name, r.String()).Inc()
}

func (o cacheObserver) ObserveRevalidation(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	o.c.CacheRevalidations.WithLabelValues(o.name, outcome).Inc()
}

func (o cacheObserver) ObserveFetchError() {
	o.c.CacheFetchErrors.WithLabelValues(o.name).Inc()
}

// ObserveTick records one monitoring check
func (c *Collector) ObserveTick(d time.Duration, err error) {
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
	if err != nil {
		c.TickErrors.Inc()
	}
}

// SetInterval records the current polling interval
func (c *Collector) SetInterval(d time.Duration) {
	c.PollInterval.Set(d.Seconds())
}

// ObserveDecision counts a published decision
func (c *Collector) ObserveDecision(a decision.Action) {
	c.Decisions.WithLabelValues(string(a)).Inc()
}

// SetSessionActive flips the active session gauge
func (c *Collector) SetSessionActive(active bool) {
	if active {
		c.ActiveSessions.Set(1)
	} else {
		c.ActiveSessions.Set(0)
	}
}

func (c *Collector) NATSPublishedInc()  { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc() { c.NATSPublishErrs.Inc() }
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
