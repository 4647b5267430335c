package safety

import (
	"testing"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
)

// testClock returns a clock that advances by step on every read, so each
// CheckSafety call lands outside the throttle interval.
func testClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func newTestMonitor(events *bus.Bus) *Monitor {
	m := New(events)
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(testClock(start, 2*time.Second))
	return m
}

func TestAllConditionsSafe(t *testing.T) {
	m := newTestMonitor(nil)
	m.AddCondition("always_safe", func() bool { return true }, SeverityHigh, 1, nil)

	if !m.CheckSafety() {
		t.Error("expected safe result")
	}
	status, ok := m.ConditionStatus("always_safe")
	if !ok || status != StatusNormal {
		t.Errorf("expected normal status, got %s (ok=%v)", status, ok)
	}
}

func TestViolationRunsRecovery(t *testing.T) {
	m := newTestMonitor(nil)

	recovered := false
	m.AddCondition("unsafe", func() bool { return false }, SeverityLow, 1, func() {
		recovered = true
	})

	if m.CheckSafety() {
		t.Error("expected unsafe result")
	}
	if !recovered {
		t.Error("recovery action did not run")
	}
	status, _ := m.ConditionStatus("unsafe")
	if status != StatusViolation {
		t.Errorf("expected violation status, got %s", status)
	}
}

func TestThresholdCountsConsecutiveViolations(t *testing.T) {
	m := newTestMonitor(nil)

	stops := 0
	m.RegisterEmergencyStop(func() { stops++ })
	m.AddCondition("critical", func() bool { return false }, SeverityCritical, 3, nil)

	// Two violations: below threshold, no stop.
	m.CheckSafety()
	m.CheckSafety()
	if stops != 0 {
		t.Fatalf("emergency stop fired before threshold (stops=%d)", stops)
	}
	status, _ := m.ConditionStatus("critical")
	if status != StatusWarning {
		t.Errorf("expected warning below threshold, got %s", status)
	}

	// Third consecutive violation crosses the threshold: exactly one stop.
	m.CheckSafety()
	if stops != 1 {
		t.Fatalf("expected exactly 1 emergency stop, got %d", stops)
	}

	// Monitor is down; further checks must not re-fire.
	m.CheckSafety()
	m.CheckSafety()
	if stops != 1 {
		t.Errorf("expected stops to stay at 1, got %d", stops)
	}
	if m.Active() {
		t.Error("monitor still active after emergency stop")
	}
	if m.Status() != StatusFailure {
		t.Errorf("expected failure status, got %s", m.Status())
	}
}

func TestPassingCheckResetsCount(t *testing.T) {
	m := newTestMonitor(nil)

	safe := false
	stops := 0
	m.RegisterEmergencyStop(func() { stops++ })
	m.AddCondition("flappy", func() bool { return safe }, SeverityCritical, 3, nil)

	m.CheckSafety() // violation 1
	m.CheckSafety() // violation 2
	safe = true
	m.CheckSafety() // recovers, count resets
	safe = false
	m.CheckSafety() // violation 1 again
	m.CheckSafety() // violation 2 again

	if stops != 0 {
		t.Errorf("emergency stop fired despite reset count (stops=%d)", stops)
	}
}

func TestLowSeverityDoesNotEscalate(t *testing.T) {
	m := newTestMonitor(nil)

	stops := 0
	m.RegisterEmergencyStop(func() { stops++ })
	m.AddCondition("minor", func() bool { return false }, SeverityMedium, 1, nil)

	m.CheckSafety()
	if stops != 0 {
		t.Errorf("medium severity escalated to emergency stop")
	}
	if !m.Active() {
		t.Error("monitor deactivated by medium severity violation")
	}
}

func TestHeldViolationFiresRecoveryOnce(t *testing.T) {
	events := bus.New()
	published := 0
	events.Subscribe(bus.EventSafetyViolation, func(e bus.Event) error {
		published++
		return nil
	})

	m := newTestMonitor(events)
	safe := false
	recoveries := 0
	m.AddCondition("stuck", func() bool { return safe }, SeverityMedium, 2, func() {
		recoveries++
	})

	// One warning, one crossing, then the violation just holds.
	for i := 0; i < 6; i++ {
		if m.CheckSafety() {
			t.Fatalf("check %d reported safe for a failing condition", i)
		}
	}

	if recoveries != 1 {
		t.Errorf("expected recovery to run once, got %d", recoveries)
	}
	if published != 1 {
		t.Errorf("expected 1 safety_violation event, got %d", published)
	}
	status, _ := m.ConditionStatus("stuck")
	if status != StatusViolation {
		t.Errorf("expected violation status to hold, got %s", status)
	}

	// A clean pass resets the count; the next crossing fires again.
	safe = true
	m.CheckSafety()
	safe = false
	m.CheckSafety()
	m.CheckSafety()
	if recoveries != 2 {
		t.Errorf("expected recovery to re-fire after reset, got %d runs", recoveries)
	}
}

func TestThrottle(t *testing.T) {
	m := New(nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })

	checks := 0
	m.AddCondition("counted", func() bool { checks++; return true }, SeverityLow, 1, nil)

	m.CheckSafety()
	m.CheckSafety() // same instant: throttled
	if checks != 1 {
		t.Errorf("expected 1 evaluation under throttle, got %d", checks)
	}

	now = now.Add(DefaultCheckInterval)
	m.CheckSafety()
	if checks != 2 {
		t.Errorf("expected 2 evaluations after interval, got %d", checks)
	}
}

func TestPanickingCheckIsFailure(t *testing.T) {
	m := newTestMonitor(nil)
	m.AddCondition("broken", func() bool { panic("sensor gone") }, SeverityLow, 1, nil)

	if m.CheckSafety() {
		t.Error("expected unsafe result for panicking check")
	}
	status, _ := m.ConditionStatus("broken")
	if status != StatusFailure {
		t.Errorf("expected failure status, got %s", status)
	}
}

func TestViolationPublishesEvent(t *testing.T) {
	events := bus.New()
	var got []bus.Event
	events.Subscribe(bus.EventSafetyViolation, func(e bus.Event) error {
		got = append(got, e)
		return nil
	})

	m := newTestMonitor(events)
	m.AddCondition("watched", func() bool { return false }, SeverityLow, 1, nil)
	m.CheckSafety()

	if len(got) != 1 {
		t.Fatalf("expected 1 safety_violation event, got %d", len(got))
	}
	if got[0].Payload["condition"] != "watched" {
		t.Errorf("expected condition watched, got %v", got[0].Payload["condition"])
	}
	if got[0].Payload["severity"] != "low" {
		t.Errorf("expected severity low, got %v", got[0].Payload["severity"])
	}
}

func TestDuplicateNameOverwrites(t *testing.T) {
	m := newTestMonitor(nil)
	m.AddCondition("dup", func() bool { return false }, SeverityLow, 1, nil)
	m.AddCondition("dup", func() bool { return true }, SeverityLow, 1, nil)

	if !m.CheckSafety() {
		t.Error("expected overwritten condition to be used")
	}
}

func TestResetReactivates(t *testing.T) {
	m := newTestMonitor(nil)
	m.AddCondition("fatal", func() bool { return false }, SeverityCritical, 1, nil)

	m.CheckSafety()
	if m.Active() {
		t.Fatal("expected monitor stopped")
	}

	m.Reset()
	if !m.Active() {
		t.Error("Reset did not reactivate monitor")
	}
	if m.Status() != StatusNormal {
		t.Errorf("expected normal status after reset, got %s", m.Status())
	}
	status, _ := m.ConditionStatus("fatal")
	if status != StatusNormal {
		t.Errorf("expected condition reset to normal, got %s", status)
	}
}

func TestViolationHistoryBounded(t *testing.T) {
	m := newTestMonitor(nil)
	safe := false
	m.AddCondition("chronic", func() bool { safe = !safe; return safe }, SeverityLow, 1, nil)

	// Alternating pass/fail so every failure is a fresh threshold crossing.
	for i := 0; i < 2*(HistorySize+4); i++ {
		m.CheckSafety()
	}

	if len(m.Violations()) != HistorySize {
		t.Errorf("expected history capped at %d, got %d", HistorySize, len(m.Violations()))
	}
}
