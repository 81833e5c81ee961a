// Package stability watches memory growth, a characteristic liveness scalar
// and frame rate, and fires corrective hooks when the long-horizon checks
// trip. The 60 s poll window is deliberate: it tolerates normal GC and
// scheduler jitter without false positives.
package stability

import (
	"log"
	"sync"
	"time"

	"fluxgrid/internal/tuning"
)

// Hooks are the corrective-action callbacks. Each must be safe to call
// repeatedly; any of them may be nil.
type Hooks struct {
	OnMemoryCleanup   func()
	OnRegenerateCycle func()
	OnReduceQuality   func()
}

// State is a copy of the monitor's diagnostic flags.
type State struct {
	MemoryLeakDetected  bool      `json:"memory_leak_detected"`
	ValueStuck          bool      `json:"value_stuck"`
	PerformanceDegraded bool      `json:"performance_degraded"`
	LastMemoryBytes     uint64    `json:"last_memory_bytes"`
	LastValue           float64   `json:"last_value"`
	LastValueChange     time.Time `json:"last_value_change"`
}

// Monitor owns one StabilityState record. The three checks are decoupled
// and may all fire in the same tick.
type Monitor struct {
	mu    sync.Mutex
	cfg   tuning.Stability
	hooks Hooks
	log   *log.Logger
	now   func() time.Time

	lastMemoryBytes uint64
	memSeeded       bool
	lastValue       float64
	lastValueChange time.Time
	valueSeeded     bool

	memoryLeakDetected  bool
	valueStuck          bool
	performanceDegraded bool
}

func New(cfg tuning.Stability, hooks Hooks, logger *log.Logger) *Monitor {
	return &Monitor{cfg: cfg, hooks: hooks, log: logger, now: time.Now}
}

// SetClock overrides the time source for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Sample runs the per-sample checks: characteristic-value change tracking,
// the degradation hysteresis, and the memory-pressure escape hatch.
func (m *Monitor) Sample(value, frameRate float64, memoryBytes uint64) {
	m.mu.Lock()

	if !m.valueSeeded || value != m.lastValue {
		m.lastValue = value
		m.lastValueChange = m.now()
		m.valueSeeded = true
		m.valueStuck = false
	}

	var reduceQuality, cleanup bool
	if frameRate < m.cfg.FPSDegraded && !m.performanceDegraded {
		m.performanceDegraded = true
		reduceQuality = true
	} else if frameRate >= m.cfg.FPSRecovered && m.performanceDegraded {
		m.performanceDegraded = false
	}

	if float64(memoryBytes)/1e6 > m.cfg.MemoryPressureMB && frameRate < m.cfg.MemoryPressureFPS {
		cleanup = true
	}
	m.mu.Unlock()

	if reduceQuality {
		m.call("reduce quality", m.hooks.OnReduceQuality)
	}
	if cleanup {
		m.call("memory cleanup", m.hooks.OnMemoryCleanup)
	}
}

// Poll runs the windowed checks (leak, stuck). The core schedules it on the
// stability cadence.
func (m *Monitor) Poll(memoryBytes uint64) {
	m.mu.Lock()

	var cleanup, regenerate bool

	if m.memSeeded {
		deltaMB := (float64(memoryBytes) - float64(m.lastMemoryBytes)) / 1e6
		if deltaMB > m.cfg.LeakDeltaMB {
			m.memoryLeakDetected = true
			cleanup = true
		}
	}
	// The baseline advances whether or not a leak was flagged.
	m.lastMemoryBytes = memoryBytes
	m.memSeeded = true

	stuckAfter := time.Duration(m.cfg.StuckAfterMs) * time.Millisecond
	if m.valueSeeded && !m.valueStuck && m.now().Sub(m.lastValueChange) > stuckAfter {
		m.valueStuck = true
		regenerate = true
	}
	m.mu.Unlock()

	if cleanup {
		m.call("memory cleanup", m.hooks.OnMemoryCleanup)
	}
	if regenerate {
		m.call("regenerate cycle", m.hooks.OnRegenerateCycle)
	}
}

// State returns a copy of the diagnostic record.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		MemoryLeakDetected:  m.memoryLeakDetected,
		ValueStuck:          m.valueStuck,
		PerformanceDegraded: m.performanceDegraded,
		LastMemoryBytes:     m.lastMemoryBytes,
		LastValue:           m.lastValue,
		LastValueChange:     m.lastValueChange,
	}
}

// call invokes a hook, keeping a panicking callback from taking down the
// scheduling loop.
func (m *Monitor) call(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && m.log != nil {
			m.log.Printf("stability: %s hook panicked: %v", name, r)
		}
	}()
	fn()
}
