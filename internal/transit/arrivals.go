// Package transit fetches real-time arrivals and service alerts and keeps
// them behind a stale-while-revalidate cache
package transit

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/randytsao24/timeright/internal/cache"
	"github.com/randytsao24/timeright/internal/models"
)

// SourceDefault marks records that did not come from a live feed
const SourceDefault = "default"

// Fetcher loads upcoming arrivals for a stop, soonest first
type Fetcher interface {
	Fetch(ctx context.Context, stopID string) ([]models.ArrivalRecord, error)
}

// ErrNoSource is returned when no fetcher serves a stop
var ErrNoSource = errors.New("no arrival source for stop")

// TTLForDistance picks how fresh arrival data must be. The closer the walker
// is to the stop, the fresher. Unknown (negative) distance gets the shortest
// TTL.
func TTLForDistance(meters float64) time.Duration {
	switch {
	case meters > 1000:
		return 120 * time.Second
	case meters > 500:
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// Arrivals is the outcome of an ArrivalCache lookup
type Arrivals struct {
	StopID  string                 `json:"stop_id"`
	Records []models.ArrivalRecord `json:"arrivals"`
	Result  string                 `json:"cache"`
	TTL     time.Duration          `json:"-"`
	// Default is set when every source failed and placeholder data was used
	Default bool `json:"default,omitempty"`
}

// Next returns the soonest arrival, if any
func (a Arrivals) Next() (models.ArrivalRecord, bool) {
	if len(a.Records) == 0 {
		return models.ArrivalRecord{}, false
	}
	return a.Records[0], true
}

// ArrivalCache serves arrivals per stop with a distance dependent TTL
type ArrivalCache struct {
	store  *cache.Cache[[]models.ArrivalRecord]
	logger *slog.Logger
}

// NewArrivalCache wraps fetcher in a stale-while-revalidate cache
func NewArrivalCache(fetcher Fetcher, logger *slog.Logger, opts ...cache.Option) *ArrivalCache {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]cache.Option{cache.WithLogger(logger)}, opts...)
	return &ArrivalCache{
		store:  cache.New[[]models.ArrivalRecord](fetcher, opts...),
		logger: logger,
	}
}

// Get returns arrivals for stopID. It never fails: when the source is down
// and nothing usable is cached it returns DefaultArrivals.
func (c *ArrivalCache) Get(ctx context.Context, stopID string, distance float64) Arrivals {
	ttl := TTLForDistance(distance)
	records, result, err := c.store.Get(ctx, stopID, ttl)

	out := Arrivals{StopID: stopID, Records: records, Result: result.String(), TTL: ttl}
	if err == nil {
		return out
	}

	if result == cache.Fallback {
		c.logger.Warn("serving cached arrivals after fetch failure", "stop_id", stopID, "error", err)
		return out
	}

	c.logger.Warn("arrival sources failed, using default data", "stop_id", stopID, "error", err)
	out.Records = DefaultArrivals()
	out.Result = cache.Miss.String()
	out.Default = true
	return out
}

// Stats exposes the underlying cache counters
func (c *ArrivalCache) Stats() cache.Stats {
	return c.store.Stats()
}

// Clear drops every cached stop
func (c *ArrivalCache) Clear() {
	c.store.Clear()
}

// Wait blocks until running background refreshes complete
func (c *ArrivalCache) Wait() {
	c.store.Wait()
}

// DefaultArrivals is placeholder data used when no source answers, so a
// decision can still be made. Every record is labelled SourceDefault.
func DefaultArrivals() []models.ArrivalRecord {
	return []models.ArrivalRecord{
		{
			VehicleLabel:      "146",
			RouteID:           "default-route-1",
			ETASeconds:        180,
			NextETASeconds:    900,
			StationsRemaining: 2,
			Congestion:        models.CongestionMedium,
			Service:           models.ServiceWindow{FirstTime: "0500", LastTime: "2359", HeadwaySeconds: 600},
			Source:            SourceDefault,
		},
		{
			VehicleLabel:      "401",
			RouteID:           "default-route-2",
			ETASeconds:        420,
			NextETASeconds:    1200,
			StationsRemaining: 4,
			Congestion:        models.CongestionLow,
			Service:           models.ServiceWindow{FirstTime: "0530", LastTime: "2330", HeadwaySeconds: 720},
			Source:            SourceDefault,
		},
	}
}

// StopLookup resolves a stop ID to its catalog entry
type StopLookup interface {
	GetByID(id string) (models.Stop, bool)
}

// Router sends each stop to the feed for its kind. Stops missing from the
// catalog go to the bus feed.
type Router struct {
	Stops  StopLookup
	Bus    Fetcher
	Subway Fetcher
}

// Fetch implements Fetcher
func (r *Router) Fetch(ctx context.Context, stopID string) ([]models.ArrivalRecord, error) {
	kind := models.StopKindBus
	if r.Stops != nil {
		if stop, ok := r.Stops.GetByID(stopID); ok {
			kind = stop.Kind
		}
	}

	var f Fetcher
	switch kind {
	case models.StopKindSubway:
		f = r.Subway
	default:
		f = r.Bus
	}
	if f == nil {
		return nil, ErrNoSource
	}

	records, err := f.Fetch(ctx, stopID)
	if err != nil {
		return nil, err
	}
	sortByETA(records)
	return records, nil
}

func sortByETA(records []models.ArrivalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ETASeconds < records[j].ETASeconds
	})
}

// fillNextETA sets NextETASeconds on each record to the ETA of the following
// vehicle on the same route. Records must already be sorted.
func fillNextETA(records []models.ArrivalRecord) {
	next := make(map[string]int)
	for i := len(records) - 1; i >= 0; i-- {
		if eta, ok := next[records[i].RouteID]; ok && records[i].NextETASeconds == 0 {
			records[i].NextETASeconds = eta
		}
		next[records[i].RouteID] = records[i].ETASeconds
	}
}
