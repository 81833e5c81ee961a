// Package core schedules the analytics monitors on one event loop. The
// upstream producer pushes state snapshots in; the loop samples the
// continuous monitors every second, recomputes the derived analytics every
// five, and runs the stability poll on its own sixty second window.
package core

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"fluxgrid/internal/advisor"
	"fluxgrid/internal/predict"
	"fluxgrid/internal/protocol"
	"fluxgrid/internal/safety"
	"fluxgrid/internal/sim"
	"fluxgrid/internal/stability"
	"fluxgrid/internal/transport/syncws"
	"fluxgrid/internal/tuning"
)

// Deps are the collaborators the core drives. Channel may be nil (no peer
// sync configured).
type Deps struct {
	Safety    *safety.Monitor
	Stability *stability.Monitor
	Advisor   *advisor.Advisor
	Channel   *syncws.Channel
	Logger    *log.Logger

	// MemoryBytes samples current memory usage; nil selects the Go heap.
	MemoryBytes func() uint64
}

// Core owns the loop state. All monitor calls happen on the loop goroutine;
// accessors copy under the mutex.
type Core struct {
	tune tuning.Tuning
	deps Deps

	updates chan sim.State
	stop    chan struct{}

	mu       sync.Mutex
	state    sim.State
	hasState bool
	history  *sim.History
	metrics  predict.Metrics
	computed bool
}

// Status is a consistent copy of everything the dashboard needs.
type Status struct {
	State        sim.State            `json:"state"`
	SafetyStatus safety.Status        `json:"safety_status"`
	SafetyEvents []safety.Event       `json:"safety_events"`
	Stability    stability.State      `json:"stability"`
	Metrics      predict.Metrics      `json:"metrics"`
	Suggestions  []advisor.Suggestion `json:"suggestions"`
	Aggregate    advisor.Stats        `json:"suggestion_stats"`
	SyncPeers    int                  `json:"sync_peers"`
	HistoryLen   int                  `json:"history_len"`
}

func New(tune tuning.Tuning, deps Deps) *Core {
	if deps.MemoryBytes == nil {
		deps.MemoryBytes = heapBytes
	}
	return &Core{
		tune:    tune,
		deps:    deps,
		updates: make(chan sim.State, 64),
		stop:    make(chan struct{}),
		history: sim.NewHistory(tune.HistoryCap),
	}
}

// Submit hands a fresh producer state to the loop. Non-blocking: under
// pressure the oldest queued snapshot is dropped, the newest wins.
func (c *Core) Submit(st sim.State) {
	select {
	case c.updates <- st:
		return
	default:
	}
	select {
	case <-c.updates:
	default:
	}
	select {
	case c.updates <- st:
	default:
	}
}

// Run drives the loop until ctx is cancelled or Stop is called. Teardown
// closes the sync channel synchronously.
func (c *Core) Run(ctx context.Context) error {
	sample := time.NewTicker(c.tune.SampleInterval())
	defer sample.Stop()
	recompute := time.NewTicker(c.tune.RecomputeInterval())
	defer recompute.Stop()
	stabilityPoll := time.NewTicker(c.tune.StabilityPoll())
	defer stabilityPoll.Stop()

	defer func() {
		if c.deps.Channel != nil {
			_ = c.deps.Channel.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case st := <-c.updates:
			c.ingest(st)
		case <-sample.C:
			c.step("sample", c.sampleTick)
		case <-recompute.C:
			c.step("recompute", c.recomputeTick)
		case <-stabilityPoll.C:
			c.step("stability", func() {
				c.deps.Stability.Poll(c.deps.MemoryBytes())
			})
		}
	}
}

// Stop ends the loop.
func (c *Core) Stop() { close(c.stop) }

func (c *Core) ingest(st sim.State) {
	c.mu.Lock()
	c.state = st
	c.hasState = true
	c.history.Push(st.ET)
	c.mu.Unlock()
}

// step keeps a panicking check from taking down the loop; the next
// scheduled tick still runs.
func (c *Core) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil && c.deps.Logger != nil {
			c.deps.Logger.Printf("core: %s check panicked: %v", name, r)
		}
	}()
	fn()
}

// sampleTick runs the continuous side-effect monitors over a consistent
// copy of the latest state.
func (c *Core) sampleTick() {
	c.mu.Lock()
	st, ok := c.state, c.hasState
	c.mu.Unlock()
	if !ok {
		return
	}

	if st.SafetyOK() {
		c.deps.Safety.Sample(st.ET)
	}
	if st.StabilityOK() {
		c.deps.Stability.Sample(st.Characteristic, st.FrameRate, c.deps.MemoryBytes())
	}
}

// recomputeTick refreshes the pure derivations and shares a snapshot with
// the session peers.
func (c *Core) recomputeTick() {
	c.mu.Lock()
	st, ok := c.state, c.hasState
	historyLen := c.history.Len()
	c.mu.Unlock()
	if !ok || !st.PredictOK() {
		return
	}

	m := predict.Compute(st, historyLen, c.tune.UpdateIntervalMs)
	c.deps.Advisor.Recompute(st, m.Readiness)

	c.mu.Lock()
	c.metrics = m
	c.computed = true
	c.mu.Unlock()

	if c.deps.Channel != nil {
		c.deps.Channel.Broadcast(protocol.SnapshotPayload{
			ET:                 st.ET,
			GrowthRate:         st.GrowthRate,
			Readiness:          m.Readiness,
			SuccessProbability: m.SuccessProbabilityPct,
			SafetyStatus:       string(c.deps.Safety.Status(st.ET)),
			Trend:              string(st.Trend),
		})
	}
}

// Status returns a consistent copy of the derived state.
func (c *Core) Status() Status {
	c.mu.Lock()
	st := c.state
	metrics := c.metrics
	historyLen := c.history.Len()
	c.mu.Unlock()

	out := Status{
		State:        st,
		SafetyStatus: c.deps.Safety.Status(st.ET),
		SafetyEvents: c.deps.Safety.Events(),
		Stability:    c.deps.Stability.State(),
		Metrics:      metrics,
		Suggestions:  c.deps.Advisor.Suggestions(),
		Aggregate:    c.deps.Advisor.Aggregate(),
		HistoryLen:   historyLen,
	}
	if c.deps.Channel != nil {
		out.SyncPeers = c.deps.Channel.Peers()
	}
	return out
}

// Computed reports whether at least one recompute pass has finished.
func (c *Core) Computed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computed
}

func heapBytes() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
