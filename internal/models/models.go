// Package models defines shared data types
package models

import (
	"strings"
	"time"
)

// Coordinate is a point reported by a position source
type Coordinate struct {
	Lat        float64   `json:"lat" yaml:"lat"`
	Lng        float64   `json:"lng" yaml:"lng"`
	Accuracy   float64   `json:"accuracy,omitempty" yaml:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty" yaml:"-"`
}

// StopKind distinguishes bus stops from subway stations
type StopKind string

const (
	StopKindBus    StopKind = "BUS"
	StopKindSubway StopKind = "SUBWAY"
)

// ParseStopKind maps catalog values onto a StopKind, defaulting to BUS
func ParseStopKind(s string) StopKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUBWAY", "METRO", "RAIL", "1":
		return StopKindSubway
	default:
		return StopKindBus
	}
}

// Stop represents a bus stop or subway station
type Stop struct {
	ID       string     `json:"stop_id" yaml:"id"`
	Name     string     `json:"stop_name" yaml:"name"`
	Location Coordinate `json:"location" yaml:"location"`
	Kind     StopKind   `json:"kind" yaml:"kind"`
}

// StopWithDistance is a Stop with distance from a reference point
type StopWithDistance struct {
	Stop
	DistanceMeters float64 `json:"distance_meters"`
}

// Congestion is the crowding reported for a vehicle
type Congestion string

const (
	CongestionUnknown Congestion = "UNKNOWN"
	CongestionLow     Congestion = "LOW"
	CongestionMedium  Congestion = "MEDIUM"
	CongestionHigh    Congestion = "HIGH"
)

// ParseCongestion accepts numeric ("0".."3") and named levels
func ParseCongestion(v string) Congestion {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "low":
		return CongestionLow
	case "2", "medium":
		return CongestionMedium
	case "3", "high":
		return CongestionHigh
	default:
		return CongestionUnknown
	}
}

// ServiceWindow describes when a route runs and how often
type ServiceWindow struct {
	FirstTime      string `json:"first_time,omitempty"`
	LastTime       string `json:"last_time,omitempty"`
	HeadwaySeconds int    `json:"headway_seconds,omitempty"`
}

// ArrivalRecord is one upcoming vehicle at a stop. Lists of records are
// ordered soonest first; index 0 is the next vehicle.
type ArrivalRecord struct {
	VehicleLabel      string        `json:"vehicle_label"`
	RouteID           string        `json:"route_id"`
	ETASeconds        int           `json:"eta_seconds"`
	NextETASeconds    int           `json:"next_eta_seconds,omitempty"`
	StationsRemaining int           `json:"stations_remaining"`
	Congestion        Congestion    `json:"congestion"`
	Service           ServiceWindow `json:"service"`
	Source            string        `json:"source,omitempty"`
}
