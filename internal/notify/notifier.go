// Package notify turns monitoring events into user-facing notifications and
// delivers them to one or more channels.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randytsao24/timeright/internal/decision"
	"github.com/randytsao24/timeright/internal/monitor"
)

// DedupeWindow is how long a repeated action or headline is suppressed
const DedupeWindow = 30 * time.Second

// Notification is what a channel delivers
type Notification struct {
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Action    decision.Action  `json:"action"`
	Urgency   decision.Urgency `json:"urgency"`
	Vibrate   bool             `json:"vibrate"`
	StopID    string           `json:"stop_id"`
	SessionID string           `json:"session_id"`
	At        time.Time        `json:"at"`
}

// Channel delivers notifications somewhere
type Channel interface {
	Deliver(ctx context.Context, n Notification) error
}

// Title returns the notification title for an action
func Title(a decision.Action) string {
	switch a {
	case decision.ActionRun:
		return "Run now!"
	case decision.ActionWalkFast:
		return "Hurry up a little"
	case decision.ActionWalkNormal:
		return "Plenty of time"
	case decision.ActionMissed:
		return "You missed the bus"
	case decision.ActionWaitNext:
		return "Wait for the next one"
	default:
		return "TimeRight"
	}
}

// Notifier is a monitor.DecisionSink. It drops an event when the same action
// or the same headline was already sent within DedupeWindow.
type Notifier struct {
	channels []Channel
	voice    Voice
	clock    clockwork.Clock
	logger   *slog.Logger

	mu           sync.Mutex
	lastAction   decision.Action
	lastHeadline string
	lastSent     time.Time
	sent         bool
}

type Option func(*Notifier)

func WithVoice(v Voice) Option {
	return func(n *Notifier) { n.voice = v }
}

func WithClock(c clockwork.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// New creates a notifier delivering to channels
func New(channels []Channel, opts ...Option) *Notifier {
	n := &Notifier{channels: channels}
	for _, opt := range opts {
		opt(n)
	}
	if n.clock == nil {
		n.clock = clockwork.NewRealClock()
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Publish implements monitor.DecisionSink
func (n *Notifier) Publish(ctx context.Context, ev monitor.Event) error {
	d := ev.Decision
	now := n.clock.Now()

	n.mu.Lock()
	if n.sent && now.Sub(n.lastSent) < DedupeWindow &&
		(d.Action == n.lastAction || d.Headline == n.lastHeadline) {
		n.mu.Unlock()
		n.logger.Debug("notification suppressed", "action", d.Action, "stop_id", ev.StopID)
		return nil
	}
	n.lastAction = d.Action
	n.lastHeadline = d.Headline
	n.lastSent = now
	n.sent = true
	n.mu.Unlock()

	note := Notification{
		Title:     Title(d.Action),
		Body:      body(d),
		Action:    d.Action,
		Urgency:   d.Urgency,
		Vibrate:   d.Vibrate,
		StopID:    ev.StopID,
		SessionID: ev.SessionID,
		At:        now,
	}

	var errs []error
	for _, ch := range n.channels {
		if err := ch.Deliver(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	if n.voice != nil && (d.VoiceAlert || d.Urgency == decision.UrgencyHigh) {
		if err := n.voice.Speak(ctx, UtteranceFor(d)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset forgets the last notification so the next one is always sent
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastAction = ""
	n.lastHeadline = ""
	n.lastSent = time.Time{}
	n.sent = false
}

func body(d decision.Decision) string {
	if d.Detail == "" {
		return d.Headline
	}
	return d.Headline + ". " + d.Detail
}
