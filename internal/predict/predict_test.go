package predict

import (
	"math"
	"reflect"
	"testing"

	"fluxgrid/internal/sim"
)

func healthyState() sim.State {
	return sim.State{
		ET:                0.9,
		TargetET:          1.0,
		GrowthRate:        5,
		Momentum:          1,
		NeuralBoost:       0.5,
		SpectrumBoost:     0.4,
		FractalBonus:      0.2,
		PhaseCoherence:    90,
		NeuralSync:        90,
		TPTT:              1000,
		AdaptiveThreshold: 500,
		Trend:             sim.TrendIncreasing,
	}
}

func TestComputeIdempotent(t *testing.T) {
	st := healthyState()
	a := Compute(st, 10, 1000)
	b := Compute(st, 10, 1000)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical inputs must yield identical outputs:\n%+v\n%+v", a, b)
	}
}

func TestEtaToTargetZeroAtTarget(t *testing.T) {
	st := healthyState()
	st.ET = st.TargetET
	m := Compute(st, 10, 1000)
	if m.EtaToTargetSec != 0 {
		t.Fatalf("etaToTarget = %v, want 0 at target", m.EtaToTargetSec)
	}
}

func TestReadinessSaturatesAtThreshold(t *testing.T) {
	st := healthyState()
	st.TPTT = st.AdaptiveThreshold
	m := Compute(st, 10, 1000)
	if m.Readiness != 100 {
		t.Fatalf("readiness = %v, want 100 when tPTT >= threshold", m.Readiness)
	}
	if m.EtaToReadySec != 0 {
		t.Fatalf("etaToReady = %v, want 0 when ready", m.EtaToReadySec)
	}
}

func TestReadinessApproachCurveNonNegative(t *testing.T) {
	st := healthyState()
	st.AdaptiveThreshold = 1e9
	st.TPTT = 1
	m := Compute(st, 10, 1000)
	if m.Readiness < 0 {
		t.Fatalf("readiness = %v, must never go negative", m.Readiness)
	}
}

func TestSuccessProbabilityHealthyScenario(t *testing.T) {
	// e_t=0.9, target=1.0, coherence=90, sync=90, tPTT >= threshold: the
	// weighted terms sum comfortably past the 75% recommendation bar.
	m := Compute(healthyState(), 10, 1000)
	if m.SuccessProbabilityPct < 75 {
		t.Fatalf("success probability = %v, want >= 75", m.SuccessProbabilityPct)
	}
	if m.SuccessProbabilityPct > 100 {
		t.Fatalf("success probability = %v, capped at 100", m.SuccessProbabilityPct)
	}
}

func TestRiskFactorOrder(t *testing.T) {
	st := sim.State{
		ET:                0.95,
		TargetET:          1.0,
		GrowthRate:        1, // below 2
		PhaseCoherence:    50,
		NeuralSync:        50,
		TPTT:              1,
		AdaptiveThreshold: 100,
		Trend:             sim.TrendDecreasing,
	}
	m := Compute(st, 10, 1000)
	want := []string{
		RiskTrendDecreasing,
		RiskLowCoherence,
		RiskLowNeuralSync,
		RiskLowGrowth,
		RiskNoFractal,
		RiskSaturation,
		RiskLowMultiplier,
	}
	if !reflect.DeepEqual(m.RiskFactors, want) {
		t.Fatalf("risk factors = %v, want %v", m.RiskFactors, want)
	}
}

func TestConfidencePenaltiesAndFloor(t *testing.T) {
	st := healthyState()
	if m := Compute(st, 10, 1000); m.ConfidencePct != 95 {
		t.Fatalf("healthy confidence = %v, want 95", m.ConfidencePct)
	}
	if m := Compute(st, 3, 1000); m.ConfidencePct != 75 {
		t.Fatalf("short-history confidence = %v, want 75", m.ConfidencePct)
	}

	// Pile on every penalty: short history, stable near-zero growth, >3 risks.
	worst := sim.State{
		ET:                0.95,
		TargetET:          1.0,
		GrowthRate:        0,
		PhaseCoherence:    10,
		NeuralSync:        10,
		TPTT:              1,
		AdaptiveThreshold: 100,
		Trend:             sim.TrendStable,
	}
	if m := Compute(worst, 0, 1000); m.ConfidencePct != 50 {
		t.Fatalf("worst-case confidence = %v, want floor 50", m.ConfidencePct)
	}
}

func TestOptimalWindowBracketsReadyPoint(t *testing.T) {
	st := healthyState()
	st.TPTT = 1
	st.AdaptiveThreshold = 1e6
	m := Compute(st, 10, 1000)
	if m.EtaToReadySec <= 0 {
		t.Fatalf("expected positive etaToReady, got %v", m.EtaToReadySec)
	}
	if want := math.Max(0, m.EtaToReadySec-30); m.OptimalWindowStartSec != want {
		t.Fatalf("window start = %v, want %v", m.OptimalWindowStartSec, want)
	}
	if want := m.EtaToReadySec + 120; m.OptimalWindowEndSec != want {
		t.Fatalf("window end = %v, want %v", m.OptimalWindowEndSec, want)
	}
}

func TestZeroGrowthEtaNotNegative(t *testing.T) {
	st := healthyState()
	st.GrowthRate = 0
	st.ET = 0.5
	m := Compute(st, 10, 1000)
	if m.EtaToTargetSec < 0 {
		t.Fatalf("etaToTarget = %v, must be >= 0", m.EtaToTargetSec)
	}
	if !math.IsInf(m.EtaToTargetSec, 1) {
		t.Fatalf("zero growth toward a higher target should report +Inf, got %v", m.EtaToTargetSec)
	}
}
