package advisor

import "fluxgrid/internal/sim"

// Fixed rule ids. Stable across recomputation so the dismissed-set keeps
// working as conditions persist.
const (
	IDIncreaseGrowth    = "increase-growth-rate"
	IDEnableRealtime    = "enable-realtime"
	IDEnableFractal     = "enable-fractal"
	IDBoostSpectrum     = "boost-spectrum"
	IDRecalibrateNeural = "recalibrate-neural-sync"
	IDImproveCoherence  = "improve-phase-coherence"
	IDOptimalWindow     = "optimal-window"
	IDFineTune          = "fine-tune-growth"
)

// generate runs every rule against the snapshot. Each rule appends at most
// one suggestion.
func generate(st sim.State, readiness float64) []Suggestion {
	var out []Suggestion

	if st.TargetET > 0 && st.ET < 0.5*st.TargetET {
		out = append(out, Suggestion{
			ID:             IDIncreaseGrowth,
			Type:           "energy",
			Priority:       PriorityHigh,
			Title:          "Increase energy growth rate",
			Description:    "Energy is below half of the transport target; raising the growth rate shortens the ramp.",
			Impact:         "Faster approach to the transport target",
			Action:         "raise_growth_rate",
			EstImprovement: 25,
			Implementable:  st.GrowthRate < 8,
		})
	}

	if !st.RealtimeMode && readiness < 60 {
		out = append(out, Suggestion{
			ID:             IDEnableRealtime,
			Type:           "mode",
			Priority:       PriorityHigh,
			Title:          "Enable realtime mode",
			Description:    "Readiness is low and realtime recomputation is off; enabling it tightens the feedback loop.",
			Impact:         "Readiness converges faster",
			Action:         "enable_realtime",
			EstImprovement: 15,
			Implementable:  true,
		})
	}

	if !st.FractalMode {
		out = append(out, Suggestion{
			ID:             IDEnableFractal,
			Type:           "mode",
			Priority:       PriorityMedium,
			Title:          "Enable fractal mode",
			Description:    "Fractal mode is off; the fractal bonus multiplies effective growth.",
			Impact:         "Adds the fractal bonus to the total multiplier",
			Action:         "enable_fractal",
			EstImprovement: 20,
			Implementable:  true,
		})
	}

	if st.SpectrumBoost < 0.3 {
		out = append(out, Suggestion{
			ID:             IDBoostSpectrum,
			Type:           "boost",
			Priority:       PriorityHigh,
			Title:          "Raise spectrum boost",
			Description:    "Spectrum boost is below 0.3 and is the cheapest multiplier headroom available.",
			Impact:         "Higher total multiplier",
			Action:         "raise_spectrum_boost",
			EstImprovement: 15,
			Implementable:  true,
		})
	}

	if st.NeuralSync < 70 {
		out = append(out, Suggestion{
			ID:             IDRecalibrateNeural,
			Type:           "calibration",
			Priority:       PriorityMedium,
			Title:          "Recalibrate neural sync",
			Description:    "Neural sync is below 70 and drags the success probability; recalibration is a manual procedure.",
			Impact:         "Recovers the neural term of the success score",
			Action:         "manual_recalibration",
			EstImprovement: 10,
			Implementable:  false,
		})
	}

	if st.PhaseCoherence < 60 {
		out = append(out, Suggestion{
			ID:             IDImproveCoherence,
			Type:           "calibration",
			Priority:       PriorityMedium,
			Title:          "Improve phase coherence",
			Description:    "Phase coherence is below 60; coherence recovery needs operator intervention.",
			Impact:         "Recovers the phase term of the success score",
			Action:         "manual_phase_tuning",
			EstImprovement: 10,
			Implementable:  false,
		})
	}

	if readiness > 95 && st.TargetET > 0 && st.ET > 0.9*st.TargetET {
		out = append(out, Suggestion{
			ID:             IDOptimalWindow,
			Type:           "timing",
			Priority:       PriorityLow,
			Title:          "Transport window open",
			Description:    "Readiness and energy are both near their targets; conditions are optimal now.",
			Impact:         "Transport during the current window",
			Action:         "initiate_transport",
			EstImprovement: 5,
			Implementable:  true,
		})
	}

	if readiness > 80 && st.GrowthRate > 5 {
		out = append(out, Suggestion{
			ID:             IDFineTune,
			Type:           "timing",
			Priority:       PriorityLow,
			Title:          "Fine-tune growth rate",
			Description:    "Readiness is high with an aggressive growth rate; a gentler ramp reduces overshoot.",
			Impact:         "Less saturation risk near the target",
			Action:         "manual_fine_tuning",
			EstImprovement: 3,
			Implementable:  false,
		})
	}

	return out
}
