// Package safety classifies the energy level against static thresholds and
// emits rate-limited events so a fast-ticking producer cannot cause alert
// storms.
package safety

import (
	"fmt"
	"math"
	"sync"
	"time"

	"fluxgrid/internal/persistence"
	"fluxgrid/internal/tuning"
)

// Status is the current safety classification.
type Status string

const (
	StatusSafe      Status = "safe"
	StatusWarning   Status = "warning"
	StatusEmergency Status = "emergency"
)

// Kind labels an emitted event.
type Kind string

const (
	KindWarning   Kind = "warning"
	KindCap       Kind = "cap"
	KindEmergency Kind = "emergency"
)

// Event is an immutable record of a threshold crossing.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	ET        float64   `json:"e_t_value"`
}

// OverrideFunc receives the corrective action the monitor intends. It may be
// invoked repeatedly with the same kind and must tolerate that.
type OverrideFunc func(kind Kind)

// Monitor evaluates energy samples and keeps a bounded event log.
type Monitor struct {
	mu  sync.Mutex
	cfg tuning.Safety

	events    []Event
	lastEmit  time.Time
	nextEvent uint64

	onOverride OverrideFunc
	rec        *persistence.Tiered
	now        func() time.Time
}

// New builds a safety monitor. onOverride and rec may be nil.
func New(cfg tuning.Safety, onOverride OverrideFunc, rec *persistence.Tiered) *Monitor {
	return &Monitor{
		cfg:        cfg,
		onOverride: onOverride,
		rec:        rec,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests drive the rate-limit window
// with it.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Evaluate classifies eT against the thresholds derived from maxET:
// emergency at 95%, warning at 80%.
func (m *Monitor) Evaluate(eT, maxET float64) Status {
	switch {
	case eT >= m.cfg.EmergencyFactor*maxET:
		return StatusEmergency
	case eT >= m.cfg.WarningFactor*maxET:
		return StatusWarning
	default:
		return StatusSafe
	}
}

// Status classifies eT against the configured maximum.
func (m *Monitor) Status(eT float64) Status {
	return m.Evaluate(eT, m.cfg.MaxET)
}

// Sample runs the rate-limited emitter for one tick. At most one event is
// emitted per call, and none if the rate-limit window since the previous
// event has not elapsed. The emitted event, if any, is returned.
func (m *Monitor) Sample(eT float64) (Event, bool) {
	m.mu.Lock()

	limit := time.Duration(m.cfg.RateLimitMs) * time.Millisecond
	now := m.now()
	if !m.lastEmit.IsZero() && now.Sub(m.lastEmit) < limit {
		m.mu.Unlock()
		return Event{}, false
	}

	var kind Kind
	var msg string
	switch {
	case eT >= m.cfg.EmergencyFactor*m.cfg.MaxET:
		kind = KindEmergency
		msg = fmt.Sprintf("energy %.4f at or above emergency threshold %.4f", eT, m.cfg.EmergencyFactor*m.cfg.MaxET)
	case eT >= m.cfg.WarningFactor*m.cfg.MaxET:
		kind = KindWarning
		msg = fmt.Sprintf("energy %.4f at or above warning threshold %.4f", eT, m.cfg.WarningFactor*m.cfg.MaxET)
	case eT >= m.cfg.MaxET:
		kind = KindCap
		msg = fmt.Sprintf("energy %.4f at or above cap %.4f", eT, m.cfg.MaxET)
	default:
		m.mu.Unlock()
		return Event{}, false
	}

	m.nextEvent++
	ev := Event{
		ID:        fmt.Sprintf("SE%06d", m.nextEvent),
		Timestamp: now,
		Kind:      kind,
		Message:   msg,
		ET:        eT,
	}

	// Newest first; oldest dropped past the cap.
	m.events = append([]Event{ev}, m.events...)
	if len(m.events) > m.cfg.EventLogCap {
		m.events = m.events[:m.cfg.EventLogCap]
	}
	m.lastEmit = now

	onOverride := m.onOverride
	rec := m.rec
	m.mu.Unlock()

	if onOverride != nil {
		onOverride(kind)
	}
	if rec != nil {
		rec.Append(persistence.Record{Kind: persistence.KindSafetyEvent, At: now, Payload: ev})
	}
	return ev, true
}

// TimeToLimit estimates seconds until eT reaches maxET at the given growth
// rate. A non-positive rate means the limit is never approached (+Inf).
// The 0.001 scaling matches the predictor's own growth-rate scaling; its
// only contract is internal consistency.
func (m *Monitor) TimeToLimit(eT, growthRate, maxET float64) float64 {
	if growthRate <= 0 {
		return math.Inf(1)
	}
	t := (maxET - eT) / (0.001 * growthRate)
	if t < 0 {
		return 0
	}
	return t
}

// Events returns a copy of the event log, newest first.
func (m *Monitor) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
