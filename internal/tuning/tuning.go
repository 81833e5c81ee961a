// Package tuning holds the analytics tunables. Every constant that shapes
// monitor behavior lives here so deployments can adjust cadences and
// thresholds without a rebuild.
package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Core loop cadences.
	SampleIntervalMs    int `yaml:"sample_interval_ms"`
	RecomputeIntervalMs int `yaml:"recompute_interval_ms"`
	UpdateIntervalMs    int `yaml:"update_interval_ms"`

	HistoryCap int `yaml:"history_cap"`

	Safety    Safety    `yaml:"safety"`
	Stability Stability `yaml:"stability"`
	Sync      Sync      `yaml:"sync"`
}

type Safety struct {
	MaxET           float64 `yaml:"max_e_t"`
	WarningFactor   float64 `yaml:"warning_factor"`
	EmergencyFactor float64 `yaml:"emergency_factor"`
	RateLimitMs     int     `yaml:"event_rate_limit_ms"`
	EventLogCap     int     `yaml:"event_log_cap"`
}

type Stability struct {
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	LeakDeltaMB    float64 `yaml:"leak_delta_mb"`
	StuckAfterMs   int     `yaml:"stuck_after_ms"`
	// Degradation trips below FPSDegraded and clears at FPSRecovered;
	// the gap is the anti-flap hysteresis.
	FPSDegraded       float64 `yaml:"fps_degraded"`
	FPSRecovered      float64 `yaml:"fps_recovered"`
	MemoryPressureMB  float64 `yaml:"memory_pressure_mb"`
	MemoryPressureFPS float64 `yaml:"memory_pressure_fps"`
}

type Sync struct {
	MinBroadcastIntervalMs int `yaml:"min_broadcast_interval_ms"`
}

// Defaults returns the stock tunables. The numeric values are load-bearing
// design constants, not placeholders.
func Defaults() Tuning {
	return Tuning{
		SampleIntervalMs:    1000,
		RecomputeIntervalMs: 5000,
		UpdateIntervalMs:    1000,
		HistoryCap:          64,
		Safety: Safety{
			MaxET:           2.5,
			WarningFactor:   0.8,
			EmergencyFactor: 0.95,
			RateLimitMs:     5000,
			EventLogCap:     10,
		},
		Stability: Stability{
			PollIntervalMs:    60_000,
			LeakDeltaMB:       20,
			StuckAfterMs:      60_000,
			FPSDegraded:       30,
			FPSRecovered:      50,
			MemoryPressureMB:  85,
			MemoryPressureFPS: 60,
		},
		Sync: Sync{
			MinBroadcastIntervalMs: 100,
		},
	}
}

// Load reads tunables from a yaml file, starting from Defaults so partial
// files only override what they name. The result is validated; a broken
// configuration fails here, before the first tick.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Validate rejects threshold orderings that would make monitor output
// meaningless.
func (t Tuning) Validate() error {
	s := t.Safety
	if s.MaxET <= 0 {
		return fmt.Errorf("safety: max_e_t must be > 0, got %v", s.MaxET)
	}
	if s.WarningFactor <= 0 || s.WarningFactor >= 1 {
		return fmt.Errorf("safety: warning_factor must be in (0,1), got %v", s.WarningFactor)
	}
	if s.EmergencyFactor <= s.WarningFactor || s.EmergencyFactor >= 1 {
		return fmt.Errorf("safety: need warning_factor < emergency_factor < 1, got %v >= %v",
			s.WarningFactor, s.EmergencyFactor)
	}
	if s.RateLimitMs < 0 {
		return fmt.Errorf("safety: event_rate_limit_ms must be >= 0, got %d", s.RateLimitMs)
	}
	if s.EventLogCap <= 0 {
		return fmt.Errorf("safety: event_log_cap must be > 0, got %d", s.EventLogCap)
	}

	st := t.Stability
	if st.PollIntervalMs <= 0 {
		return fmt.Errorf("stability: poll_interval_ms must be > 0, got %d", st.PollIntervalMs)
	}
	if st.StuckAfterMs <= 0 {
		return fmt.Errorf("stability: stuck_after_ms must be > 0, got %d", st.StuckAfterMs)
	}
	if st.FPSRecovered <= st.FPSDegraded {
		return fmt.Errorf("stability: fps_recovered (%v) must exceed fps_degraded (%v)",
			st.FPSRecovered, st.FPSDegraded)
	}

	for name, v := range map[string]int{
		"sample_interval_ms":        t.SampleIntervalMs,
		"recompute_interval_ms":     t.RecomputeIntervalMs,
		"update_interval_ms":        t.UpdateIntervalMs,
		"history_cap":               t.HistoryCap,
		"min_broadcast_interval_ms": t.Sync.MinBroadcastIntervalMs,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", name, v)
		}
	}
	return nil
}

func (t Tuning) SampleInterval() time.Duration    { return time.Duration(t.SampleIntervalMs) * time.Millisecond }
func (t Tuning) RecomputeInterval() time.Duration { return time.Duration(t.RecomputeIntervalMs) * time.Millisecond }
func (t Tuning) StabilityPoll() time.Duration {
	return time.Duration(t.Stability.PollIntervalMs) * time.Millisecond
}
