package location

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randytsao24/timeright/internal/models"
	"github.com/randytsao24/timeright/internal/power"
)

// Tracker keeps the latest position reported by the client. Reports older
// than maxAge are treated as no fix.
type Tracker struct {
	mu      sync.RWMutex
	latest  *models.Coordinate
	profile power.Profile
	granted bool
	maxAge  time.Duration
	clock   clockwork.Clock
}

// NewTracker creates a tracker. A zero maxAge keeps reports forever.
func NewTracker(maxAge time.Duration, clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{maxAge: maxAge, clock: clock, granted: true}
}

// Update records a new position. A zero CapturedAt is stamped with the
// tracker's clock. A report closer than the active profile's distance
// interval to the previous fix is not stored, but it still renews that fix so
// a walker standing still does not lose it.
func (t *Tracker) Update(c models.Coordinate) bool {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.latest != nil && t.profile.DistanceInterval > 0 && !t.expired(*t.latest) {
		if Distance(*t.latest, c) < t.profile.DistanceInterval {
			if c.CapturedAt.After(t.latest.CapturedAt) {
				renewed := *t.latest
				renewed.CapturedAt = c.CapturedAt
				t.latest = &renewed
			}
			return false
		}
	}
	t.latest = &c
	return true
}

// CurrentLocation returns the latest fresh fix or nil
func (t *Tracker) CurrentLocation() *models.Coordinate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.latest == nil || t.expired(*t.latest) {
		return nil
	}
	c := *t.latest
	return &c
}

func (t *Tracker) expired(c models.Coordinate) bool {
	return t.maxAge > 0 && t.clock.Since(c.CapturedAt) > t.maxAge
}

// SetPermission records whether the client granted location access
func (t *Tracker) SetPermission(granted bool) {
	t.mu.Lock()
	t.granted = granted
	t.mu.Unlock()
}

// PermissionGranted reports the last permission state set by the client
func (t *Tracker) PermissionGranted() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.granted
}

// ApplyProfile stores the sampling profile chosen for the current session
func (t *Tracker) ApplyProfile(p power.Profile) {
	t.mu.Lock()
	t.profile = p
	t.mu.Unlock()
}

// Profile returns the active sampling profile
func (t *Tracker) Profile() power.Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.profile
}

// Reset forgets the last fix
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.latest = nil
	t.mu.Unlock()
}
