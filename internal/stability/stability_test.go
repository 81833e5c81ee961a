package stability

import (
	"testing"
	"time"

	"fluxgrid/internal/tuning"
)

func newTestMonitor(hooks Hooks) (*Monitor, *time.Time) {
	m := New(tuning.Defaults().Stability, hooks, nil)
	now := time.Unix(5000, 0)
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestStuckValueTriggersOnce(t *testing.T) {
	calls := 0
	m, now := newTestMonitor(Hooks{OnRegenerateCycle: func() { calls++ }})

	m.Sample(1.5, 60, 0)
	*now = now.Add(61 * time.Second)
	m.Poll(0)

	if calls != 1 {
		t.Fatalf("regenerate calls = %d, want 1", calls)
	}
	if !m.State().ValueStuck {
		t.Fatalf("expected ValueStuck after 61s without change")
	}

	// The flag is already set; the next poll must not re-fire.
	*now = now.Add(60 * time.Second)
	m.Poll(0)
	if calls != 1 {
		t.Fatalf("regenerate calls after second poll = %d, want 1", calls)
	}
}

func TestValueChangeResetsStuckTimer(t *testing.T) {
	calls := 0
	m, now := newTestMonitor(Hooks{OnRegenerateCycle: func() { calls++ }})

	m.Sample(1.5, 60, 0)
	*now = now.Add(59 * time.Second)
	m.Sample(1.6, 60, 0) // change before the window elapses
	*now = now.Add(2 * time.Second)
	m.Poll(0)

	if calls != 0 {
		t.Fatalf("regenerate calls = %d, want 0", calls)
	}
	if m.State().ValueStuck {
		t.Fatalf("ValueStuck must be clear after a change")
	}
}

func TestDegradationHysteresis(t *testing.T) {
	calls := 0
	m, _ := newTestMonitor(Hooks{OnReduceQuality: func() { calls++ }})

	m.Sample(1, 25, 0)
	if !m.State().PerformanceDegraded {
		t.Fatalf("expected degraded at 25 fps")
	}
	if calls != 1 {
		t.Fatalf("reduce-quality calls = %d, want 1", calls)
	}

	m.Sample(1, 25, 0)
	if calls != 1 {
		t.Fatalf("already-degraded sample must not re-fire, calls = %d", calls)
	}

	m.Sample(1, 45, 0) // inside the hysteresis gap
	if !m.State().PerformanceDegraded {
		t.Fatalf("45 fps must not clear the flag")
	}

	m.Sample(1, 55, 0)
	if m.State().PerformanceDegraded {
		t.Fatalf("55 fps must clear the flag")
	}
}

func TestLeakCheck(t *testing.T) {
	calls := 0
	m, _ := newTestMonitor(Hooks{OnMemoryCleanup: func() { calls++ }})

	m.Poll(50e6) // seeds the baseline, no delta yet
	if calls != 0 || m.State().MemoryLeakDetected {
		t.Fatalf("first poll must only seed the baseline")
	}

	m.Poll(55e6) // +5 MB, under threshold
	if calls != 0 {
		t.Fatalf("5 MB growth must not flag a leak")
	}

	m.Poll(80e6) // +25 MB
	if calls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", calls)
	}
	if !m.State().MemoryLeakDetected {
		t.Fatalf("expected MemoryLeakDetected")
	}
	if m.State().LastMemoryBytes != 80e6 {
		t.Fatalf("baseline = %d, want 80e6", m.State().LastMemoryBytes)
	}
}

func TestMemoryPressureCleanup(t *testing.T) {
	calls := 0
	m, _ := newTestMonitor(Hooks{OnMemoryCleanup: func() { calls++ }})

	m.Sample(1, 55, 90e6) // >85 MB and <60 fps
	if calls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", calls)
	}

	m.Sample(1, 60, 90e6) // fps not below 60
	m.Sample(1, 55, 80e6) // memory under pressure threshold
	if calls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", calls)
	}
}

func TestPanickingHookDoesNotPropagate(t *testing.T) {
	m, _ := newTestMonitor(Hooks{OnReduceQuality: func() { panic("boom") }})
	m.Sample(1, 10, 0) // must not panic the caller
	if !m.State().PerformanceDegraded {
		t.Fatalf("flag must be set even when the hook panics")
	}
}
