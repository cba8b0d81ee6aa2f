package decision

import "math"

// SignalEstimator guesses the traffic signal waits on the way to a stop
type SignalEstimator interface {
	Estimate(distance float64) []float64
}

// PerDistanceSignals assumes one signal every Every meters, each costing
// Wait seconds
type PerDistanceSignals struct {
	Every float64
	Wait  float64
}

// DefaultSignals is one 30s signal per 100m walked
var DefaultSignals = PerDistanceSignals{Every: 100, Wait: 30}

// Estimate implements SignalEstimator
func (p PerDistanceSignals) Estimate(distance float64) []float64 {
	if p.Every <= 0 || distance <= 0 {
		return nil
	}
	n := int(math.Floor(distance / p.Every))
	waits := make([]float64, n)
	for i := range waits {
		waits[i] = p.Wait
	}
	return waits
}

// NoSignals assumes an uninterrupted walk
type NoSignals struct{}

// Estimate implements SignalEstimator
func (NoSignals) Estimate(float64) []float64 { return nil }

// FixedSignals always returns the same waits
type FixedSignals []float64

// Estimate implements SignalEstimator
func (f FixedSignals) Estimate(float64) []float64 { return f }
