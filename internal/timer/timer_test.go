package timer

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
	"github.com/sweeney/garage-thermostat/internal/settings"
)

// manualClock is a settable clock safe for use from the poll goroutine.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{t: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// recorder collects published events behind a mutex.
type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) record(e bus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) lastMode() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.Type == bus.EventTempSettingChanged && e.Payload["setting"] == bus.SettingHeaterMode {
			mode, ok := e.Payload["value"].(string)
			return mode, ok
		}
	}
	return "", false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestService(t *testing.T, clock *manualClock) (*Service, *settings.Store, *recorder) {
	t.Helper()
	store, err := settings.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	events := bus.New()

	var rec recorder
	events.Subscribe(bus.EventTimerStart, rec.record)
	events.Subscribe(bus.EventTimerEnd, rec.record)
	events.Subscribe(bus.EventTempSettingChanged, rec.record)

	svc := New(store, events)
	svc.SetClock(clock.Now)
	svc.SetPollInterval(10 * time.Millisecond)
	return svc, store, &rec
}

func TestStartPersistsAndEnablesHeat(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, store, rec := newTestService(t, clock)

	if !svc.Start(2 * time.Hour) {
		t.Fatal("Start returned false")
	}
	defer svc.Stop()

	data := store.LoadState(File)
	if data == nil {
		t.Fatal("timer state not persisted")
	}
	wantEnd := float64(start.Add(2 * time.Hour).Unix())
	if data["end_time"] != wantEnd {
		t.Errorf("expected end_time %v, got %v", wantEnd, data["end_time"])
	}
	if data["duration_secs"] != 7200.0 {
		t.Errorf("expected duration_secs 7200, got %v", data["duration_secs"])
	}
	if data["created_at"] != float64(start.Unix()) {
		t.Errorf("expected created_at %v, got %v", float64(start.Unix()), data["created_at"])
	}

	if rec.count(bus.EventTimerStart) != 1 {
		t.Errorf("expected 1 timer start event, got %d", rec.count(bus.EventTimerStart))
	}
	if mode, _ := rec.lastMode(); mode != "heat" {
		t.Errorf("expected mode-enable change, got %q", mode)
	}
	if !svc.Running() {
		t.Error("expected timer running")
	}
	if got := svc.Remaining(); got != 2*time.Hour {
		t.Errorf("expected 2h remaining, got %v", got)
	}
}

func TestStartRejectsNonPositiveDuration(t *testing.T) {
	clock := newManualClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	svc, _, _ := newTestService(t, clock)

	if svc.Start(0) {
		t.Error("Start(0) should fail")
	}
	if svc.Start(-time.Minute) {
		t.Error("Start(negative) should fail")
	}
}

func TestExpiryDisablesHeatAndDeletesState(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, store, rec := newTestService(t, clock)

	svc.Start(30 * time.Second)
	clock.Set(start.Add(31 * time.Second))

	if !waitFor(t, 2*time.Second, func() bool { return rec.count(bus.EventTimerEnd) == 1 }) {
		t.Fatal("timer end event never published")
	}
	if mode, _ := rec.lastMode(); mode != "off" {
		t.Errorf("expected mode-disable change on expiry, got %q", mode)
	}
	if store.LoadState(File) != nil {
		t.Error("timer state not deleted on expiry")
	}
	if svc.Running() {
		t.Error("timer still running after expiry")
	}
}

// Resume semantics: a 36s timer interrupted at the 10s mark resumes with
// ~26s remaining and fires at the original absolute deadline, not 36s after
// restart.
func TestResumeKeepsAbsoluteDeadline(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc1, store, _ := newTestService(t, clock)

	svc1.Start(36 * time.Second)
	svc1.Stop() // plays no further part; the state file outlives it

	// Re-create the persisted state (Stop deleted it) as it was at the
	// moment of the simulated power loss.
	store.SaveState(map[string]any{
		"end_time":      float64(start.Add(36 * time.Second).Unix()),
		"duration_secs": 36.0,
		"created_at":    float64(start.Unix()),
	}, File)

	// "Reboot" 10 seconds in: a fresh service over the same store.
	clock.Set(start.Add(10 * time.Second))
	events := bus.New()
	var rec recorder
	events.Subscribe(bus.EventTimerEnd, rec.record)
	events.Subscribe(bus.EventTempSettingChanged, rec.record)

	svc2 := New(store, events)
	svc2.SetClock(clock.Now)
	svc2.SetPollInterval(10 * time.Millisecond)

	if !svc2.Resume() {
		t.Fatal("Resume returned false for a valid timer")
	}
	if got := svc2.Remaining(); got != 26*time.Second {
		t.Errorf("expected 26s remaining after resume, got %v", got)
	}

	// 35s after the original start: the old deadline has not passed.
	clock.Set(start.Add(35 * time.Second))
	time.Sleep(50 * time.Millisecond)
	if rec.count(bus.EventTimerEnd) != 0 {
		t.Fatal("timer fired before the original deadline")
	}

	// Just past the original deadline: fires, regardless of restart time.
	clock.Set(start.Add(37 * time.Second))
	if !waitFor(t, 2*time.Second, func() bool { return rec.count(bus.EventTimerEnd) == 1 }) {
		t.Fatal("timer did not fire at the original deadline")
	}
}

func TestResumeExpiredTimerDoesNotReheat(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, store, rec := newTestService(t, clock)

	// A timer that ended an hour ago, e.g. after an extended outage.
	store.SaveState(map[string]any{
		"end_time":      float64(start.Add(-time.Hour).Unix()),
		"duration_secs": 3600.0,
		"created_at":    float64(start.Add(-2 * time.Hour).Unix()),
	}, File)

	if svc.Resume() {
		t.Error("Resume returned true for an expired timer")
	}
	if store.LoadState(File) != nil {
		t.Error("expired timer state not deleted")
	}
	if mode, _ := rec.lastMode(); mode != "off" {
		t.Errorf("expected heating explicitly disabled, got %q", mode)
	}
	if svc.Running() {
		t.Error("expired timer left running")
	}
}

func TestResumeWithNoStateFile(t *testing.T) {
	clock := newManualClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	svc, _, _ := newTestService(t, clock)

	if svc.Resume() {
		t.Error("Resume returned true with no state file")
	}
}

func TestNewTimerSupersedesOld(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, _, rec := newTestService(t, clock)

	svc.Start(5 * time.Second)
	svc.Start(10 * time.Second) // supersedes the first

	// Past the first deadline only: the stale loop must not fire.
	clock.Set(start.Add(6 * time.Second))
	time.Sleep(60 * time.Millisecond)
	if n := rec.count(bus.EventTimerEnd); n != 0 {
		t.Fatalf("superseded timer fired (%d end events)", n)
	}

	// Past the second deadline: exactly one expiry.
	clock.Set(start.Add(11 * time.Second))
	if !waitFor(t, 2*time.Second, func() bool { return rec.count(bus.EventTimerEnd) >= 1 }) {
		t.Fatal("active timer never fired")
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(bus.EventTimerEnd); n != 1 {
		t.Errorf("expected exactly 1 end event, got %d", n)
	}
}

func TestFailedStartKeepsPriorTimer(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, store, rec := newTestService(t, clock)

	if !svc.Start(30 * time.Second) {
		t.Fatal("first Start failed")
	}

	// A directory squatting on the temp path makes the atomic save fail.
	obstacle := store.Path(File + ".tmp")
	if err := os.Mkdir(obstacle, 0o755); err != nil {
		t.Fatal(err)
	}
	if svc.Start(time.Hour) {
		t.Fatal("Start should fail when state cannot be persisted")
	}
	os.RemoveAll(obstacle)

	// The failed restart must not have superseded the running countdown.
	if !svc.Running() {
		t.Fatal("prior countdown should still be running")
	}
	if got := svc.Remaining(); got != 30*time.Second {
		t.Errorf("expected prior deadline intact, got %v remaining", got)
	}

	// The original deadline still fires and disables heating.
	clock.Set(start.Add(31 * time.Second))
	if !waitFor(t, 2*time.Second, func() bool { return rec.count(bus.EventTimerEnd) == 1 }) {
		t.Fatal("prior timer never expired after the failed restart")
	}
	if mode, _ := rec.lastMode(); mode != "off" {
		t.Errorf("expected mode-disable at expiry, got %q", mode)
	}
}

func TestStopCancelsAndDisables(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := newManualClock(start)
	svc, store, rec := newTestService(t, clock)

	svc.Start(time.Hour)
	svc.Stop()

	if svc.Running() {
		t.Error("timer running after Stop")
	}
	if store.LoadState(File) != nil {
		t.Error("timer state not deleted on Stop")
	}
	if rec.count(bus.EventTimerEnd) != 1 {
		t.Errorf("expected 1 end event on Stop, got %d", rec.count(bus.EventTimerEnd))
	}
	if mode, _ := rec.lastMode(); mode != "off" {
		t.Errorf("expected mode-disable on Stop, got %q", mode)
	}

	// The cancelled loop must not fire a second end event later.
	clock.Set(start.Add(2 * time.Hour))
	time.Sleep(60 * time.Millisecond)
	if rec.count(bus.EventTimerEnd) != 1 {
		t.Errorf("stale loop fired after Stop: %d end events", rec.count(bus.EventTimerEnd))
	}
}
