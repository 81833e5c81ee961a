// Package persistence provides the append-only record path used by the
// analytics monitors. Writes are best-effort: monitor state is authoritative
// and is never blocked by a failed write.
package persistence

import (
	"log"
	"sync"
	"time"
)

// Record kinds.
const (
	KindSafetyEvent  = "safety_event"
	KindAcceptance   = "suggestion_acceptance"
	KindSyncSnapshot = "sync_snapshot"
)

// Record is one append-only entry.
type Record struct {
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Sink accepts append-only records and may fail.
type Sink interface {
	Append(rec Record) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(rec Record) error

func (f SinkFunc) Append(rec Record) error { return f(rec) }

// MultiSink fans a record out to several sinks; the first error wins but all
// sinks are attempted.
type MultiSink []Sink

func (m MultiSink) Append(rec Record) error {
	var first error
	for _, s := range m {
		if err := s.Append(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Tiered wraps a primary sink with a bounded in-memory fallback. When the
// primary fails the record is kept locally (oldest evicted) so a degraded
// backend loses at most the overflow, and callers never see the failure.
type Tiered struct {
	mu       sync.Mutex
	primary  Sink
	log      *log.Logger
	fallback []Record
	cap      int
	dropped  uint64
}

// NewTiered builds a tiered recorder. primary may be nil (everything lands
// in the fallback ring). fallbackCap <= 0 selects a default of 256.
func NewTiered(primary Sink, fallbackCap int, logger *log.Logger) *Tiered {
	if fallbackCap <= 0 {
		fallbackCap = 256
	}
	return &Tiered{primary: primary, cap: fallbackCap, log: logger}
}

// Append records best-effort. It never returns an error and never blocks on
// the primary beyond the primary's own Append call.
func (t *Tiered) Append(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if t.primary != nil {
		if err := t.primary.Append(rec); err == nil {
			return
		} else if t.log != nil {
			t.log.Printf("persistence: primary append failed (%s): %v", rec.Kind, err)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = append(t.fallback, rec)
	if len(t.fallback) > t.cap {
		t.fallback = t.fallback[len(t.fallback)-t.cap:]
		t.dropped++
	}
}

// Buffered returns a copy of the records held in the fallback ring.
func (t *Tiered) Buffered() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.fallback))
	copy(out, t.fallback)
	return out
}

// Dropped reports how many records were evicted from the fallback ring.
func (t *Tiered) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Drain hands the buffered records to fn and clears the ring when fn
// succeeds. Used to re-play the fallback into a recovered primary.
func (t *Tiered) Drain(fn func([]Record) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.fallback) == 0 {
		return nil
	}
	if err := fn(t.fallback); err != nil {
		return err
	}
	t.fallback = t.fallback[:0]
	return nil
}
