package advisor

import (
	"testing"

	"fluxgrid/internal/persistence"
	"fluxgrid/internal/sim"
)

func lowEnergyState() sim.State {
	return sim.State{
		ET:             0.2,
		TargetET:       1.0,
		GrowthRate:     3,
		SpectrumBoost:  0.1,
		NeuralSync:     50,
		PhaseCoherence: 50,
		RealtimeMode:   false,
		FractalMode:    false,
	}
}

func hasID(list []Suggestion, id string) bool {
	for _, s := range list {
		if s.ID == id {
			return true
		}
	}
	return false
}

func TestRulesFireForLowEnergyState(t *testing.T) {
	a := New(nil)
	got := a.Recompute(lowEnergyState(), 40)

	for _, id := range []string{
		IDIncreaseGrowth, IDEnableRealtime, IDEnableFractal,
		IDBoostSpectrum, IDRecalibrateNeural, IDImproveCoherence,
	} {
		if !hasID(got, id) {
			t.Fatalf("expected suggestion %q in %v", id, got)
		}
	}
	if hasID(got, IDOptimalWindow) || hasID(got, IDFineTune) {
		t.Fatalf("low-readiness state must not produce timing suggestions")
	}
}

func TestHighPrioritySortsFirst(t *testing.T) {
	a := New(nil)
	got := a.Recompute(lowEnergyState(), 40)
	if len(got) == 0 || got[0].Priority != PriorityHigh {
		t.Fatalf("expected high priority first, got %+v", got)
	}
	for _, s := range a.HighPriority() {
		if s.Priority != PriorityHigh {
			t.Fatalf("HighPriority returned %v", s.Priority)
		}
	}
}

func TestDismissSuppressesAcrossRegenerations(t *testing.T) {
	a := New(nil)
	a.Recompute(lowEnergyState(), 40)
	a.Dismiss(IDEnableFractal)

	for i := 0; i < 3; i++ {
		got := a.Recompute(lowEnergyState(), 40)
		if hasID(got, IDEnableFractal) {
			t.Fatalf("dismissed id resurfaced on regeneration %d", i)
		}
	}

	a.ClearDismissed()
	if got := a.Recompute(lowEnergyState(), 40); !hasID(got, IDEnableFractal) {
		t.Fatalf("cleared dismissal must let the suggestion regenerate")
	}
}

func TestApplyOnlyImplementable(t *testing.T) {
	rec := persistence.NewTiered(nil, 8, nil)
	a := New(rec)
	a.Recompute(lowEnergyState(), 40)

	if err := a.Apply(IDRecalibrateNeural); err == nil {
		t.Fatalf("applying a non-implementable suggestion must fail")
	}
	if err := a.Apply(IDEnableFractal); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if hasID(a.Suggestions(), IDEnableFractal) {
		t.Fatalf("applied suggestion must be dismissed")
	}
	if got := a.Recompute(lowEnergyState(), 40); hasID(got, IDEnableFractal) {
		t.Fatalf("applied suggestion must stay dismissed across recomputes")
	}

	recs := rec.Buffered()
	if len(recs) != 1 || recs[0].Kind != persistence.KindAcceptance {
		t.Fatalf("expected one acceptance record, got %+v", recs)
	}
}

func TestApplyUnknownID(t *testing.T) {
	a := New(nil)
	a.Recompute(lowEnergyState(), 40)
	if err := a.Apply("no-such-rule"); err == nil {
		t.Fatalf("unknown id must error")
	}
}

func TestGrowthRuleImplementabilityBoundary(t *testing.T) {
	a := New(nil)
	st := lowEnergyState()

	st.GrowthRate = 7.9
	got := a.Recompute(st, 40)
	for _, s := range got {
		if s.ID == IDIncreaseGrowth && !s.Implementable {
			t.Fatalf("growth rule must be implementable below 8")
		}
	}

	st.GrowthRate = 8
	got = a.Recompute(st, 40)
	for _, s := range got {
		if s.ID == IDIncreaseGrowth && s.Implementable {
			t.Fatalf("growth rule must not be implementable at 8")
		}
	}
}

func TestOptimalWindowRule(t *testing.T) {
	a := New(nil)
	st := sim.State{
		ET:             0.95,
		TargetET:       1.0,
		GrowthRate:     6,
		SpectrumBoost:  0.5,
		NeuralSync:     90,
		PhaseCoherence: 90,
		RealtimeMode:   true,
		FractalMode:    true,
	}
	got := a.Recompute(st, 96)
	if !hasID(got, IDOptimalWindow) {
		t.Fatalf("expected optimal-window suggestion, got %v", got)
	}
	if !hasID(got, IDFineTune) {
		t.Fatalf("expected fine-tune suggestion, got %v", got)
	}

	agg := a.Aggregate()
	if agg.Total != len(got) {
		t.Fatalf("aggregate total = %d, want %d", agg.Total, len(got))
	}
	if agg.MaxImprovement != 5 {
		t.Fatalf("max improvement = %v, want 5", agg.MaxImprovement)
	}
}
