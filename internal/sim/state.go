// Package sim defines the read-only simulation state consumed by the
// analytics monitors. The upstream producer refreshes the full state once
// per tick; the core copies it and never mutates the producer's view.
package sim

import "math"

// Trend labels the recent direction of the energy level.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// State is one tick of upstream simulation output.
type State struct {
	ET       float64 `json:"e_t"`
	TargetET float64 `json:"target_e_t"`

	GrowthRate float64 `json:"energy_growth_rate"`
	Momentum   float64 `json:"energy_momentum"`

	NeuralBoost   float64 `json:"neural_boost"`
	SpectrumBoost float64 `json:"spectrum_boost"`
	FractalBonus  float64 `json:"fractal_bonus"`

	PhaseCoherence float64 `json:"phase_coherence"` // 0..100
	NeuralSync     float64 `json:"neural_sync"`     // 0..100

	TPTT              float64 `json:"tptt_value"`
	AdaptiveThreshold float64 `json:"adaptive_threshold"`

	Trend Trend `json:"energy_trend"`

	RealtimeMode bool `json:"realtime_mode"`
	FractalMode  bool `json:"fractal_mode"`

	// Characteristic is the liveness heartbeat scalar watched by the
	// stability monitor (a cascade-factor-like value).
	Characteristic float64 `json:"characteristic"`
	FrameRate      float64 `json:"frame_rate"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SafetyOK reports whether the fields the safety monitor reads are usable
// this tick. A non-finite value means "no update": the check is skipped
// rather than risking a false event.
func (s State) SafetyOK() bool {
	return finite(s.ET)
}

// PredictOK reports whether the predictor's inputs are all finite.
func (s State) PredictOK() bool {
	for _, v := range []float64{
		s.ET, s.TargetET, s.GrowthRate, s.Momentum,
		s.NeuralBoost, s.SpectrumBoost, s.FractalBonus,
		s.PhaseCoherence, s.NeuralSync, s.TPTT, s.AdaptiveThreshold,
	} {
		if !finite(v) {
			return false
		}
	}
	return true
}

// StabilityOK reports whether the stability monitor's per-sample inputs are
// usable this tick.
func (s State) StabilityOK() bool {
	return finite(s.Characteristic) && finite(s.FrameRate)
}

// History is a bounded ring of recent e_t samples, oldest evicted first.
type History struct {
	samples []float64
	cap     int
}

// NewHistory returns a history bounded at capacity samples.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 64
	}
	return &History{cap: capacity}
}

// Push appends a sample, evicting the oldest when full. Non-finite samples
// are dropped.
func (h *History) Push(v float64) {
	if !finite(v) {
		return
	}
	h.samples = append(h.samples, v)
	if len(h.samples) > h.cap {
		h.samples = h.samples[len(h.samples)-h.cap:]
	}
}

func (h *History) Len() int { return len(h.samples) }

// Samples returns a copy of the retained samples, oldest first.
func (h *History) Samples() []float64 {
	out := make([]float64, len(h.samples))
	copy(out, h.samples)
	return out
}

// DeriveTrend classifies the direction of recent samples for producers that
// do not supply a trend of their own.
func DeriveTrend(samples []float64, epsilon float64) Trend {
	if len(samples) < 2 {
		return TrendStable
	}
	if epsilon < 0 {
		epsilon = 0
	}
	delta := samples[len(samples)-1] - samples[0]
	switch {
	case delta > epsilon:
		return TrendIncreasing
	case delta < -epsilon:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
