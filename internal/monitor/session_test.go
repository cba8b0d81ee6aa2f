package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/power"
	"github.com/randytsao24/timeright/internal/transit"
)

var testStop = models.Stop{
	ID:       "01001",
	Name:     "City Hall",
	Location: models.Coordinate{Lat: 37.5665, Lng: 126.9780},
}

// north returns a point roughly meters north of the test stop
func north(meters float64) *models.Coordinate {
	return &models.Coordinate{Lat: testStop.Location.Lat + meters/111195, Lng: testStop.Location.Lng}
}

type fakePositions struct {
	mu  sync.Mutex
	pos *models.Coordinate
}

func (f *fakePositions) CurrentLocation() *models.Coordinate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakePositions) set(c *models.Coordinate) {
	f.mu.Lock()
	f.pos = c
	f.mu.Unlock()
}

type deniedPositions struct{ fakePositions }

func (*deniedPositions) PermissionGranted() bool { return false }

type profilePositions struct {
	fakePositions
	applied power.Profile
}

func (p *profilePositions) ApplyProfile(pr power.Profile) { p.applied = pr }

type fakeArrivals struct {
	mu      sync.Mutex
	eta     int
	calls   int
	panicOn int
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeArrivals) Get(ctx context.Context, stopID string, distance float64) transit.Arrivals {
	f.mu.Lock()
	f.calls++
	call := f.calls
	block, entered := f.block, f.entered
	eta := f.eta
	f.mu.Unlock()

	if call == f.panicOn {
		panic("feed exploded")
	}
	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return transit.Arrivals{
		StopID:  stopID,
		Records: []models.ArrivalRecord{{RouteID: "146", ETASeconds: eta}},
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	resets int
	err    error
}

func (r *recordingSink) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingSink) Reset() {
	r.mu.Lock()
	r.resets++
	r.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type harness struct {
	session   *Session
	clock     *clockwork.FakeClock
	positions *fakePositions
	arrivals  *fakeArrivals
	events    chan Event
}

func newHarness(t *testing.T, start *models.Coordinate, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:     clockwork.NewFakeClock(),
		positions: &fakePositions{pos: start},
		arrivals:  &fakeArrivals{eta: 600},
		events:    make(chan Event, 16),
	}
	opts = append([]Option{
		WithClock(h.clock),
		WithLogger(quietLogger()),
		OnDecision(func(ev Event) { h.events <- ev }),
	}, opts...)
	h.session = New(testStop, h.positions, h.arrivals, opts...)
	t.Cleanup(h.session.Stop)
	return h
}

func (h *harness) expectEvent(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a decision")
		return Event{}
	}
}

func (h *harness) expectNoEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected decision after stop: %+v", ev.Decision)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ----------------------------------------------------------------------------
// Interval policy
// ----------------------------------------------------------------------------

func TestIntervalForDistance(t *testing.T) {
	tests := []struct {
		meters float64
		want   time.Duration
	}{
		{1500, 30 * time.Second},
		{1000.5, 30 * time.Second},
		{1000, 15 * time.Second},
		{700, 15 * time.Second},
		{500, 10 * time.Second},
		{300, 10 * time.Second},
		{200, 5 * time.Second},
		{100, 5 * time.Second},
		{0, 5 * time.Second},
	}

	for _, tt := range tests {
		if got := IntervalForDistance(tt.meters); got != tt.want {
			t.Errorf("IntervalForDistance(%v) = %v, want %v", tt.meters, got, tt.want)
		}
	}
}

func TestIntervalMappingThroughSession(t *testing.T) {
	cases := map[float64]int64{1500: 30000, 700: 15000, 300: 10000, 100: 5000}

	for meters, wantMS := range cases {
		h := newHarness(t, north(meters))
		if err := h.session.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		ev := h.expectEvent(t)
		if ev.IntervalMS != wantMS {
			t.Errorf("%vm: IntervalMS = %d, want %d", meters, ev.IntervalMS, wantMS)
		}
		if got := h.session.Interval().Milliseconds(); got != wantMS {
			t.Errorf("%vm: Interval = %dms, want %d", meters, got, wantMS)
		}
		h.session.Stop()
	}
}

// ----------------------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------------------

func TestStartRunsFirstCheckImmediately(t *testing.T) {
	h := newHarness(t, north(300))

	if got := h.session.Status(); got != StatusIdle {
		t.Fatalf("Status = %s, want IDLE", got)
	}
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case ev := <-h.events:
		if ev.StopID != testStop.ID || ev.SessionID != h.session.ID() {
			t.Errorf("event = %+v", ev)
		}
		// about 300m with signals and margin needs well under the 600s ETA
		if ev.Decision.Action != decision.ActionWalkNormal {
			t.Errorf("Action = %s, want WALK_NORMAL", ev.Decision.Action)
		}
	default:
		t.Fatal("first check should run before Start returns")
	}

	if h.session.Status() != StatusRunning {
		t.Errorf("Status = %s, want RUNNING", h.session.Status())
	}
	if last, ok := h.session.Last(); !ok || last.StopID != testStop.ID {
		t.Errorf("Last = %+v, %v", last, ok)
	}
}

func TestTickerFollowsDistance(t *testing.T) {
	h := newHarness(t, north(1500))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectEvent(t)

	h.positions.set(north(300))
	h.clock.Advance(30 * time.Second)
	ev := h.expectEvent(t)
	if ev.IntervalMS != 10000 {
		t.Errorf("IntervalMS = %d, want 10000", ev.IntervalMS)
	}
	waitFor(t, "interval reset", func() bool { return h.session.Interval() == 10*time.Second })

	h.clock.Advance(10 * time.Second)
	h.expectEvent(t)
}

func TestStopThenAdvanceNoCallbacks(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, north(100), WithSinks(sink))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectEvent(t)

	h.session.Stop()
	h.clock.Advance(time.Minute)
	h.clock.Advance(time.Minute)
	h.expectNoEvent(t)

	if h.session.Status() != StatusStopped {
		t.Errorf("Status = %s, want STOPPED", h.session.Status())
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 {
		t.Errorf("sink events = %d, want 1", len(sink.events))
	}
	if sink.resets != 1 {
		t.Errorf("sink resets = %d, want 1", sink.resets)
	}
}

func TestInFlightCheckDroppedAfterStop(t *testing.T) {
	h := newHarness(t, north(100))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectEvent(t)

	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.arrivals.mu.Lock()
	h.arrivals.block, h.arrivals.entered = block, entered
	h.arrivals.mu.Unlock()

	h.clock.Advance(5 * time.Second)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("check never started")
	}

	h.session.Stop()
	close(block)
	h.expectNoEvent(t)
}

func TestDoubleStopAndRestart(t *testing.T) {
	h := newHarness(t, north(100))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.session.Stop()
	h.session.Stop()

	if err := h.session.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}

	idle := newHarness(t, north(100))
	idle.session.Stop()
	if idle.session.Status() != StatusStopped {
		t.Error("stopping an idle session should still end it")
	}
}

func TestStartWhileRunning(t *testing.T) {
	h := newHarness(t, north(100))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestPermissionDenied(t *testing.T) {
	positions := &deniedPositions{}
	s := New(testStop, positions, &fakeArrivals{}, WithClock(clockwork.NewFakeClock()), WithLogger(quietLogger()))

	if err := s.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Start = %v, want ErrPermissionDenied", err)
	}
	if s.Status() != StatusIdle {
		t.Errorf("Status = %s, want IDLE", s.Status())
	}
}

func TestNoPositionSkipsCheck(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectNoEvent(t)

	if h.session.Interval() != initialInterval {
		t.Errorf("Interval = %v, want %v", h.session.Interval(), initialInterval)
	}

	h.positions.set(north(700))
	h.clock.Advance(initialInterval)
	ev := h.expectEvent(t)
	if ev.IntervalMS != 15000 {
		t.Errorf("IntervalMS = %d, want 15000", ev.IntervalMS)
	}
}

func TestStopFromCallback(t *testing.T) {
	var s *Session
	s = New(testStop, &fakePositions{pos: north(100)}, &fakeArrivals{eta: 600},
		WithClock(clockwork.NewFakeClock()),
		WithLogger(quietLogger()),
		OnDecision(func(Event) { s.Stop() }),
	)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Stop from inside the callback deadlocked")
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status = %s, want STOPPED", s.Status())
	}
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSink) Publish(ctx context.Context, ev Event) error {
	b.entered <- struct{}{}
	<-b.release
	return nil
}

func TestStopDuringSinkDeliverySuppressesCallback(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarness(t, north(300), WithSinks(sink))

	started := make(chan error, 1)
	go func() { started <- h.session.Start(context.Background()) }()
	<-sink.entered

	stopped := make(chan struct{})
	go func() {
		h.session.Stop()
		close(stopped)
	}()
	waitFor(t, "stop to take effect", func() bool { return h.session.Status() == StatusStopped })

	select {
	case <-stopped:
		t.Fatal("Stop returned while a delivery was still in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(sink.release)
	<-stopped
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.expectNoEvent(t)
}

func TestPanickingCheckKeepsLoopAlive(t *testing.T) {
	h := newHarness(t, north(100))
	h.arrivals.panicOn = 2
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectEvent(t)

	h.clock.Advance(5 * time.Second) // panics
	waitFor(t, "panicking check", func() bool {
		h.arrivals.mu.Lock()
		defer h.arrivals.mu.Unlock()
		return h.arrivals.calls >= 2
	})

	h.clock.Advance(5 * time.Second)
	h.expectEvent(t)
}

func TestSinkErrorsAreSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("push gateway down")}
	h := newHarness(t, north(100), WithSinks(sink))
	if err := h.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.expectEvent(t)
}

func TestProfileSelectedAtStart(t *testing.T) {
	positions := &profilePositions{fakePositions: fakePositions{pos: north(100)}}
	s := New(testStop, positions, &fakeArrivals{eta: 600},
		WithClock(clockwork.NewFakeClock()),
		WithLogger(quietLogger()),
		WithPowerSource(power.StaticSource{Charging: true, BatteryFraction: 0.05}),
	)
	defer s.Stop()

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if positions.applied != power.Charging {
		t.Errorf("applied profile = %s, want charging", positions.applied.Name)
	}
	if s.Profile() != power.Charging {
		t.Errorf("Profile = %s, want charging", s.Profile().Name)
	}
}

// ----------------------------------------------------------------------------
// Engine
// ----------------------------------------------------------------------------

func TestEngineSingleSession(t *testing.T) {
	var active []bool
	e := NewEngine(func(a bool) { active = append(active, a) })
	ctx := context.Background()

	if err := e.Stop(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Stop with no session = %v, want ErrNoSession", err)
	}

	first := newHarness(t, north(100))
	second := newHarness(t, north(100))

	if err := e.Start(ctx, first.session); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx, second.session); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if second.session.Status() != StatusIdle {
		t.Error("rejected session must not be started")
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(ctx, second.session); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}

	cur, ok := e.Current()
	if !ok || cur != second.session {
		t.Error("Current should be the second session")
	}
	if len(active) != 3 || !active[0] || active[1] || !active[2] {
		t.Errorf("active notifications = %v", active)
	}
}

func TestEngineStartFailureClearsSlot(t *testing.T) {
	e := NewEngine(nil)
	denied := New(testStop, &deniedPositions{}, &fakeArrivals{}, WithLogger(quietLogger()))

	if err := e.Start(context.Background(), denied); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Start = %v", err)
	}
	if _, ok := e.Current(); ok {
		t.Error("failed start should not occupy the engine")
	}
}
