// Package predict derives transport-readiness metrics from the current
// simulation state. Compute is a pure function: identical inputs produce
// identical outputs, and it keeps no state of its own.
package predict

import (
	"math"

	"fluxgrid/internal/sim"
)

// Readiness at or above this level counts as transport-ready.
const readyAt = 80.0

// Metrics is the wholesale-recomputed prediction output. ETAs are seconds,
// clamped at 0; a non-finite ETA means the level is not approaching.
type Metrics struct {
	EtaToReadySec          float64  `json:"eta_to_ready_sec"`
	EtaToTargetSec         float64  `json:"eta_to_target_sec"`
	SuccessProbabilityPct  float64  `json:"success_probability_pct"`
	OptimalWindowStartSec  float64  `json:"optimal_window_start_sec"`
	OptimalWindowEndSec    float64  `json:"optimal_window_end_sec"`
	RiskFactors            []string `json:"risk_factors"`
	ConfidencePct          float64  `json:"confidence_pct"`
	ProjectedEfficiencyPct float64  `json:"projected_efficiency_pct"`
	Readiness              float64  `json:"readiness"`
}

// Risk factor texts, appended in evaluation order.
const (
	RiskTrendDecreasing = "energy trend decreasing"
	RiskLowCoherence    = "phase coherence below 70"
	RiskLowNeuralSync   = "neural sync below 70"
	RiskLowGrowth       = "growth rate below 2"
	RiskNoFractal       = "no fractal bonus active"
	RiskSaturation      = "energy within 10% of target"
	RiskLowMultiplier   = "total multiplier below 2"
)

// Compute derives the full metric set from one consistent state snapshot.
// historyLen is the number of retained e_t samples; updateIntervalMs is the
// producer's tick interval.
func Compute(st sim.State, historyLen, updateIntervalMs int) Metrics {
	if updateIntervalMs <= 0 {
		updateIntervalMs = 1000
	}

	totalMultiplier := 1 + st.NeuralBoost + st.SpectrumBoost + st.FractalBonus + 0.1*st.Momentum
	growthPerSec := 0.001 * st.GrowthRate * totalMultiplier * (1000 / float64(updateIntervalMs))

	etaToTarget := 0.0
	if st.TargetET > st.ET {
		etaToTarget = clampSec((st.TargetET - st.ET) / growthPerSec)
	}

	readiness := readinessScore(st.TPTT, st.AdaptiveThreshold)

	etaToReady := 0.0
	if readiness < readyAt {
		etaToReady = clampSec((readyAt - readiness) / (growthPerSec * 10))
	}

	energyScore := 0.0
	if st.TargetET > 0 {
		energyScore = math.Min(st.ET/st.TargetET, 1) * 30
	}
	tpttScore := math.Min(readiness/100, 1) * 25
	phaseScore := st.PhaseCoherence / 100 * 20
	neuralScore := st.NeuralSync / 100 * 15
	optimizationScore := (totalMultiplier - 1) * 10
	successProbability := math.Min(100, energyScore+tpttScore+phaseScore+neuralScore+optimizationScore)

	windowStart := math.Max(0, etaToReady-30)
	windowEnd := etaToReady + 120

	var risks []string
	if st.Trend == sim.TrendDecreasing {
		risks = append(risks, RiskTrendDecreasing)
	}
	if st.PhaseCoherence < 70 {
		risks = append(risks, RiskLowCoherence)
	}
	if st.NeuralSync < 70 {
		risks = append(risks, RiskLowNeuralSync)
	}
	if st.GrowthRate < 2 {
		risks = append(risks, RiskLowGrowth)
	}
	if st.FractalBonus <= 0 {
		risks = append(risks, RiskNoFractal)
	}
	if st.ET > 0.9*st.TargetET {
		risks = append(risks, RiskSaturation)
	}
	if totalMultiplier < 2 {
		risks = append(risks, RiskLowMultiplier)
	}

	confidence := 95.0
	if historyLen < 5 {
		confidence -= 20
	}
	if st.Trend == sim.TrendStable && math.Abs(growthPerSec) < 1e-4 {
		confidence -= 15
	}
	if len(risks) > 3 {
		confidence -= 10
	}
	confidence = math.Max(confidence, 50)

	efficiency := successProbability / 100
	if st.FractalBonus > 0 {
		efficiency += 0.1
	}
	efficiency += (totalMultiplier - 1) * 0.05
	efficiency = math.Min(1, efficiency) * 100

	return Metrics{
		EtaToReadySec:          etaToReady,
		EtaToTargetSec:         etaToTarget,
		SuccessProbabilityPct:  successProbability,
		OptimalWindowStartSec:  windowStart,
		OptimalWindowEndSec:    windowEnd,
		RiskFactors:            risks,
		ConfidencePct:          confidence,
		ProjectedEfficiencyPct: efficiency,
		Readiness:              readiness,
	}
}

// readinessScore maps tPTT against the adaptive threshold onto 0..100. At or
// above the threshold it saturates at 100; below it follows a log-scaled
// approach curve that never goes negative.
func readinessScore(tptt, threshold float64) float64 {
	if tptt >= threshold {
		return 100
	}
	score := (math.Log10(math.Max(tptt, 1))-math.Log10(threshold))*20 + 50
	return math.Max(0, score)
}

// JSONSafe returns a copy with non-finite ETAs replaced by -1 so the value
// survives encoding/json. A -1 ETA means the level is not approaching.
func (m Metrics) JSONSafe() Metrics {
	if math.IsInf(m.EtaToReadySec, 0) || math.IsNaN(m.EtaToReadySec) {
		m.EtaToReadySec = -1
	}
	if math.IsInf(m.EtaToTargetSec, 0) || math.IsNaN(m.EtaToTargetSec) {
		m.EtaToTargetSec = -1
	}
	if math.IsInf(m.OptimalWindowStartSec, 0) || math.IsNaN(m.OptimalWindowStartSec) {
		m.OptimalWindowStartSec = -1
	}
	if math.IsInf(m.OptimalWindowEndSec, 0) || math.IsNaN(m.OptimalWindowEndSec) {
		m.OptimalWindowEndSec = -1
	}
	return m
}

// clampSec floors an ETA at zero. Division by a zero growth rate yields
// +Inf, which is preserved (the level is not approaching).
func clampSec(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
