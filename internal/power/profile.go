// Package power picks position sampling profiles from the device's power state.
//
// A profile fixes three knobs at once: the positional accuracy tier, the
// minimum time between position reports and the minimum distance between
// them. Profiles are strictly ordered on all three knobs:
//
//	charging > high > balanced > low
//
// The exact values are configuration; only the ordering is load-bearing.
package power

import (
	"context"
	"fmt"
	"time"
)

// Accuracy is the positional accuracy tier requested from the location sensor
type Accuracy int

const (
	AccuracyLow Accuracy = iota + 1
	AccuracyBalanced
	AccuracyHigh
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLow:
		return "Low"
	case AccuracyBalanced:
		return "Balanced"
	case AccuracyHigh:
		return "High"
	default:
		return fmt.Sprintf("Accuracy(%d)", int(a))
	}
}

// MarshalText lets profiles render accuracy by name in JSON
func (a Accuracy) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Profile is one sampling configuration
type Profile struct {
	Name             string        `json:"name"`
	Accuracy         Accuracy      `json:"accuracy"`
	TimeInterval     time.Duration `json:"time_interval"`
	DistanceInterval float64       `json:"distance_interval_meters"`
}

var (
	Charging = Profile{Name: "charging", Accuracy: AccuracyHigh, TimeInterval: 3 * time.Second, DistanceInterval: 5}
	High     = Profile{Name: "high", Accuracy: AccuracyHigh, TimeInterval: 5 * time.Second, DistanceInterval: 10}
	Balanced = Profile{Name: "balanced", Accuracy: AccuracyBalanced, TimeInterval: 8 * time.Second, DistanceInterval: 15}
	Low      = Profile{Name: "low", Accuracy: AccuracyLow, TimeInterval: 12 * time.Second, DistanceInterval: 20}
	// LowPower is used whenever the OS low power mode is on and the device is
	// not charging
	LowPower = Profile{Name: "low_power", Accuracy: AccuracyLow, TimeInterval: 15 * time.Second, DistanceInterval: 20}
)

// State is a snapshot of the device power state
type State struct {
	Charging        bool    `json:"charging"`
	Full            bool    `json:"full"`
	LowPowerMode    bool    `json:"low_power_mode"`
	BatteryFraction float64 `json:"battery_fraction" validate:"gte=0,lte=1"`
}

// Battery returns BatteryFraction clamped to [0,1]
func (s State) Battery() float64 {
	switch {
	case s.BatteryFraction < 0:
		return 0
	case s.BatteryFraction > 1:
		return 1
	default:
		return s.BatteryFraction
	}
}

// Select picks the sampling profile for a power state. Charging (or a full
// battery) wins over everything, then low power mode, then battery level
// with thresholds at 0.5 and 0.2.
func Select(s State) Profile {
	if s.Charging || s.Full {
		return Charging
	}
	if s.LowPowerMode {
		return LowPower
	}

	switch level := s.Battery(); {
	case level > 0.5:
		return High
	case level > 0.2:
		return Balanced
	default:
		return Low
	}
}

// Sufficient reports whether there is enough battery to navigate
func Sufficient(s State) bool {
	return s.Battery() > 0.1 || s.Charging
}

// Source reports the current power state
type Source interface {
	Snapshot(ctx context.Context) (State, error)
}

// StaticSource always reports the same state
type StaticSource State

// Snapshot implements Source
func (s StaticSource) Snapshot(context.Context) (State, error) {
	return State(s), nil
}
