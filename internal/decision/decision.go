// Package decision turns "time needed to reach the stop" and "time until the
// vehicle arrives" into a graded action for the walker.
//
// Everything here is pure: no clocks, no I/O, no shared state. The same
// inputs always produce the same Decision.
package decision

import (
	"fmt"
	"math"

	"github.com/randytsao24/timeright/internal/models"
)

const (
	// DefaultWalkSpeed is the average walking pace in meters per second
	DefaultWalkSpeed = 1.2
	// SafetyMargin is added to every required time, in seconds
	SafetyMargin = 30.0
	// StairPenalty is the flat platform change overhead used for transfers
	StairPenalty = 30.0

	runThreshold  = 30.0
	fastThreshold = 60.0
)

// Action is what the walker should do now
type Action string

const (
	ActionRun        Action = "RUN"
	ActionWalkFast   Action = "WALK_FAST"
	ActionWalkNormal Action = "WALK_NORMAL"
	ActionMissed     Action = "MISSED"
	ActionWaitNext   Action = "WAIT_NEXT"
)

// Urgency grades how loudly a decision should be delivered
type Urgency string

const (
	UrgencyHigh   Urgency = "HIGH"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyLow    Urgency = "LOW"
	UrgencyInfo   Urgency = "INFO"
)

// Decision is the outcome of one evaluation
type Decision struct {
	Action          Action  `json:"action"`
	Urgency         Urgency `json:"urgency"`
	Headline        string  `json:"headline"`
	Detail          string  `json:"detail,omitempty"`
	Vibrate         bool    `json:"vibrate"`
	VoiceAlert      bool    `json:"voice_alert,omitempty"`
	Slack           float64 `json:"slack_seconds"`
	RequiredSeconds float64 `json:"required_seconds"`
}

// Engine evaluates decisions for one walking pace. The zero value uses
// DefaultWalkSpeed.
type Engine struct {
	WalkSpeed float64
}

// New returns an engine for the given pace. Non-positive speeds fall back to
// DefaultWalkSpeed.
func New(walkSpeed float64) Engine {
	return Engine{WalkSpeed: walkSpeed}
}

func (e Engine) speed() float64 {
	if e.WalkSpeed <= 0 || math.IsNaN(e.WalkSpeed) || math.IsInf(e.WalkSpeed, 0) {
		return DefaultWalkSpeed
	}
	return e.WalkSpeed
}

// nonNegative maps NaN and negative inputs to zero
func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// RequiredTime is the seconds needed to walk distance meters, waiting at each
// signal, plus SafetyMargin. Negative or NaN distances and waits count as zero.
func (e Engine) RequiredTime(distance float64, signalWaits []float64) float64 {
	walk := nonNegative(distance) / e.speed()

	var wait float64
	for _, w := range signalWaits {
		wait += nonNegative(w)
	}
	return walk + wait + SafetyMargin
}

// Decide grades the slack between the vehicle ETA and the required time. A
// NaN ETA counts as zero, which reads as missed.
func (e Engine) Decide(distance, etaSeconds float64, signalWaits []float64) Decision {
	required := e.RequiredTime(distance, signalWaits)
	slack := nonNegative(etaSeconds) - required

	d := Decision{Slack: slack, RequiredSeconds: required}
	switch {
	case slack < 0:
		d.Action = ActionMissed
		d.Urgency = UrgencyInfo
		d.Headline = "You'll miss this one"
		d.Detail = "Take the next vehicle"
	case slack < runThreshold:
		d.Action = ActionRun
		d.Urgency = UrgencyHigh
		d.Headline = "Move quickly now!"
		d.Detail = fmt.Sprintf("%dm to go, %ds to spare", int(nonNegative(distance)), int(slack))
		d.Vibrate = true
		d.VoiceAlert = true
	case slack < fastThreshold:
		d.Action = ActionWalkFast
		d.Urgency = UrgencyMedium
		d.Headline = "Pick up the pace a little"
		d.Detail = fmt.Sprintf("%ds to spare", int(slack))
		d.Vibrate = true
	default:
		d.Action = ActionWalkNormal
		d.Urgency = UrgencyLow
		d.Headline = "Plenty of time, walk normally"
		d.Detail = fmt.Sprintf("%d min %d s to spare", int(slack/60), int(math.Mod(slack, 60)))
	}
	return d
}

// TransferTime is the seconds needed to change platforms: walking time plus
// StairPenalty, scaled by crowding. Unknown crowding counts as LOW.
func (e Engine) TransferTime(platformDistance float64, crowd models.Congestion) float64 {
	base := nonNegative(platformDistance)/e.speed() + StairPenalty
	return base * crowdMultiplier(crowd)
}

func crowdMultiplier(c models.Congestion) float64 {
	switch c {
	case models.CongestionMedium:
		return 1.2
	case models.CongestionHigh:
		return 1.5
	default:
		return 1.0
	}
}

// DecideTransfer decides whether a connection can still be made
func (e Engine) DecideTransfer(platformDistance, nextETASeconds float64, crowd models.Congestion) Decision {
	required := e.TransferTime(platformDistance, crowd)
	eta := nonNegative(nextETASeconds)
	slack := eta - required

	d := Decision{Slack: slack, RequiredSeconds: required}
	switch {
	case eta < required:
		d.Action = ActionWaitNext
		d.Urgency = UrgencyInfo
		d.Headline = "Wait for the next train"
		d.Detail = "You'll likely miss the current one"
	case slack < runThreshold:
		d.Action = ActionRun
		d.Urgency = UrgencyHigh
		d.Headline = "Transfer quickly!"
		d.Detail = fmt.Sprintf("%dm to the platform", int(nonNegative(platformDistance)))
		d.Vibrate = true
	default:
		d.Action = ActionWalkNormal
		d.Urgency = UrgencyLow
		d.Headline = "Transfer at an easy pace"
		d.Detail = fmt.Sprintf("%d min to spare", int(slack/60))
	}
	return d
}

var std Engine

// RequiredTime uses the default walking pace
func RequiredTime(distance float64, signalWaits []float64) float64 {
	return std.RequiredTime(distance, signalWaits)
}

// Decide uses the default walking pace
func Decide(distance, etaSeconds float64, signalWaits []float64) Decision {
	return std.Decide(distance, etaSeconds, signalWaits)
}

// DecideTransfer uses the default walking pace
func DecideTransfer(platformDistance, nextETASeconds float64, crowd models.Congestion) Decision {
	return std.DecideTransfer(platformDistance, nextETASeconds, crowd)
}
