// Package monitor runs monitoring sessions: a periodic check of the walker's
// distance to a stop against the next vehicle's ETA, on a cadence that
// tightens as the walker gets closer.
//
// A session is single use. It moves IDLE -> RUNNING -> STOPPED and never
// leaves STOPPED. Once Stop returns no callback or sink sees another event,
// including from checks that were already running.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/location"
	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/power"
	"github.com/randytsao24/timeright/internal/transit"
)

var (
	ErrAlreadyRunning   = errors.New("monitoring session already running")
	ErrStopped          = errors.New("monitoring session already stopped")
	ErrPermissionDenied = errors.New("location permission denied")
)

// Status is the lifecycle state of a session
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusRunning:
		return "RUNNING"
	case StatusStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PositionSource reports the walker's latest position, nil when there is no fix
type PositionSource interface {
	CurrentLocation() *models.Coordinate
}

// PermissionChecker is implemented by position sources that can be refused
type PermissionChecker interface {
	PermissionGranted() bool
}

// ProfileAware is implemented by position sources that adapt their sampling
type ProfileAware interface {
	ApplyProfile(p power.Profile)
}

// ArrivalSource returns arrivals for a stop, using distance to pick freshness
type ArrivalSource interface {
	Get(ctx context.Context, stopID string, distance float64) transit.Arrivals
}

// DecisionSink receives every published event. Errors are logged and
// otherwise ignored.
type DecisionSink interface {
	Publish(ctx context.Context, ev Event) error
}

// Resetter is implemented by sinks holding per-session state
type Resetter interface {
	Reset()
}

// Metrics receives loop instrumentation
type Metrics interface {
	ObserveTick(d time.Duration, err error)
	SetInterval(d time.Duration)
	ObserveDecision(a decision.Action)
}

// Event is one decision together with what it was based on
type Event struct {
	SessionID      string               `json:"session_id"`
	StopID         string               `json:"stop_id"`
	StopName       string               `json:"stop_name,omitempty"`
	DistanceMeters float64              `json:"distance_meters"`
	IntervalMS     int64                `json:"interval_ms"`
	Arrival        models.ArrivalRecord `json:"arrival"`
	DefaultData    bool                 `json:"default_data,omitempty"`
	Decision       decision.Decision    `json:"decision"`
	At             time.Time            `json:"at"`
}

const initialInterval = 5 * time.Second

// IntervalForDistance is the polling cadence for a distance to the stop
func IntervalForDistance(meters float64) time.Duration {
	switch {
	case meters > 1000:
		return 30 * time.Second
	case meters > 500:
		return 15 * time.Second
	case meters > 200:
		return 10 * time.Second
	default:
		return 5 * time.Second
	}
}

// Session monitors one target stop
type Session struct {
	id        string
	stop      models.Stop
	positions PositionSource
	arrivals  ArrivalSource
	power     power.Source
	engine    decision.Engine
	signals   decision.SignalEstimator
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   Metrics
	sinks     []DecisionSink

	mu        sync.Mutex
	status    Status
	interval  time.Duration
	profile   power.Profile
	startedAt time.Time
	last      *Event
	callback  func(Event)
	cancel    context.CancelFunc
	ticker    clockwork.Ticker
	done      chan struct{}

	// inCallback is set under mu while the decision callback runs
	inCallback bool

	// publishMu is held while an event is delivered so Stop can wait for it
	publishMu sync.Mutex
}

// Option configures a Session
type Option func(*Session)

// WithPowerSource sets where the power state is read at start
func WithPowerSource(src power.Source) Option {
	return func(s *Session) { s.power = src }
}

// WithEngine sets the decision engine (and so the walking pace)
func WithEngine(e decision.Engine) Option {
	return func(s *Session) { s.engine = e }
}

// WithSignals sets the traffic signal estimator
func WithSignals(est decision.SignalEstimator) Option {
	return func(s *Session) { s.signals = est }
}

// WithClock sets the clock driving the ticker
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics sets loop instrumentation
func WithMetrics(m Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSinks adds downstream consumers of every event
func WithSinks(sinks ...DecisionSink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sinks...) }
}

// OnDecision sets the callback invoked for every event
func OnDecision(fn func(Event)) Option {
	return func(s *Session) { s.callback = fn }
}

// New creates an idle session for stop
func New(stop models.Stop, positions PositionSource, arrivals ArrivalSource, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		stop:      stop,
		positions: positions,
		arrivals:  arrivals,
		power:     power.StaticSource{BatteryFraction: 1},
		signals:   decision.DefaultSignals,
		interval:  initialInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.signals == nil {
		s.signals = decision.NoSignals{}
	}
	s.logger = s.logger.With("session_id", s.id, "stop_id", stop.ID)
	return s
}

// Start runs the first check immediately, then keeps checking on a ticker
// whose period follows the distance to the stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.status {
	case StatusRunning:
		s.mu.Unlock()
		s.logger.Warn("start ignored, session already running")
		return ErrAlreadyRunning
	case StatusStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	if pc, ok := s.positions.(PermissionChecker); ok && !pc.PermissionGranted() {
		s.mu.Unlock()
		return ErrPermissionDenied
	}
	ctx, cancel := context.WithCancel(ctx)
	s.status = StatusRunning
	s.cancel = cancel
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	profile := s.selectProfile(ctx)
	s.mu.Lock()
	s.profile = profile
	s.mu.Unlock()

	s.logger.Info("monitoring started", "stop_name", s.stop.Name, "profile", profile.Name)

	next := s.tick(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		// stopped during the first check
		return nil
	}
	s.interval = next
	s.ticker = s.clock.NewTicker(next)
	s.done = make(chan struct{})
	if s.metrics != nil {
		s.metrics.SetInterval(next)
	}
	go s.loop(ctx, s.ticker, s.done)
	return nil
}

func (s *Session) selectProfile(ctx context.Context) power.Profile {
	state, err := s.power.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("power state unavailable, using balanced profile", "error", err)
		return power.Balanced
	}
	if !power.Sufficient(state) {
		s.logger.Warn("battery low, monitoring may stop early", "battery", state.Battery())
	}

	profile := power.Select(state)
	if pa, ok := s.positions.(ProfileAware); ok {
		pa.ApplyProfile(profile)
	}
	return profile
}

func (s *Session) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			next := s.tick(ctx)

			s.mu.Lock()
			if s.status == StatusRunning && next != s.interval {
				s.logger.Debug("polling interval changed", "from", s.interval, "to", next)
				s.interval = next
				ticker.Reset(next)
				if s.metrics != nil {
					s.metrics.SetInterval(next)
				}
			}
			s.mu.Unlock()
		}
	}
}

// tick runs one check and returns the interval the next check should use.
// Panics are recovered so the loop survives a bad check.
func (s *Session) tick(ctx context.Context) (next time.Duration) {
	start := s.clock.Now()
	next = s.Interval()

	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
		if err != nil {
			s.logger.Error("monitoring check failed", "error", err)
		}
		if s.metrics != nil {
			s.metrics.ObserveTick(s.clock.Since(start), err)
		}
	}()

	pos := s.positions.CurrentLocation()
	if pos == nil {
		s.logger.Debug("no position fix, skipping check")
		return next
	}

	distance := location.Distance(*pos, s.stop.Location)
	next = IntervalForDistance(distance)

	waits := s.signals.Estimate(distance)
	arrivals := s.arrivals.Get(ctx, s.stop.ID, distance)
	arrival, ok := arrivals.Next()
	if !ok {
		s.logger.Info("no upcoming arrivals", "distance_m", int(distance))
		return next
	}

	d := s.engine.Decide(distance, float64(arrival.ETASeconds), waits)
	s.publish(ctx, Event{
		SessionID:      s.id,
		StopID:         s.stop.ID,
		StopName:       s.stop.Name,
		DistanceMeters: distance,
		IntervalMS:     next.Milliseconds(),
		Arrival:        arrival,
		DefaultData:    arrivals.Default,
		Decision:       d,
		At:             s.clock.Now(),
	})
	return next
}

// publish delivers ev only if the session is still running at this moment.
// The status is checked again before every sink and before the callback, so
// a Stop from another goroutine cuts a delivery short.
func (s *Session) publish(ctx context.Context, ev Event) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		s.logger.Debug("dropping decision from stopped session", "action", ev.Decision.Action)
		return
	}
	sinks := s.sinks
	s.last = &ev
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveDecision(ev.Decision.Action)
	}
	for _, sink := range sinks {
		if !s.running() {
			return
		}
		if err := sink.Publish(ctx, ev); err != nil {
			s.logger.Warn("decision sink failed", "error", err)
		}
	}

	s.mu.Lock()
	cb := s.callback
	if s.status != StatusRunning || cb == nil {
		s.mu.Unlock()
		return
	}
	s.inCallback = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inCallback = false
		s.mu.Unlock()
	}()
	cb(ev)
}

func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusRunning
}

// Stop ends the session. It is idempotent and safe to call from inside the
// decision callback. Called from anywhere else it waits for a delivery in
// progress to finish or drop its event. Sinks must not call Stop.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status == StatusStopped {
		s.mu.Unlock()
		return
	}
	s.status = StatusStopped
	s.callback = nil
	cancel := s.cancel
	ticker := s.ticker
	sinks := s.sinks
	// the callback was entered while the session was running; waiting here
	// would deadlock when Stop comes from inside it
	inCallback := s.inCallback
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}

	if !inCallback {
		s.publishMu.Lock()
		s.publishMu.Unlock()
	}

	for _, sink := range sinks {
		if r, ok := sink.(Resetter); ok {
			r.Reset()
		}
	}
	s.logger.Info("monitoring stopped")
}

// Done is closed when the ticker loop has exited. It is nil until Start has
// scheduled the loop.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// TargetStop returns the stop being monitored
func (s *Session) TargetStop() models.Stop { return s.stop }

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Interval returns the current polling interval
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Profile returns the sampling profile chosen at start
func (s *Session) Profile() power.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// StartedAt returns when Start was called
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Last returns the most recently published event
func (s *Session) Last() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Event{}, false
	}
	return *s.last, true
}
