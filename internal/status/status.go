// Package status provides a thread-safe status tracker for the thermostat
// daemon. It is written by the run loop and read when formatting heartbeat
// and lifecycle reports.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
)

// Config contains daemon configuration for display.
type Config struct {
	SensorPollMs  int64
	SafetyCheckMs int64
	HeartbeatMs   int64
	RelayPin      int
	SensorPath    string
	DataDir       string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	State          string
	Mode           string
	HeaterOn       bool
	Temperature    *float64
	Setpoint       float64
	SafetyStatus   string
	SafetyActive   bool
	TimerRunning   bool
	TimerRemaining time.Duration
	BusStats       bus.Stats
	StartTime      time.Time
	Now            time.Time
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock injects a clock for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update sets the controller view: state machine state, mode, relay state,
// last reading, and active setpoint. Called from the run loop on every tick.
func (t *Tracker) Update(state, mode string, heaterOn bool, temp *float64, setpoint float64) {
	t.mu.Lock()
	t.snap.State = state
	t.snap.Mode = mode
	t.snap.HeaterOn = heaterOn
	t.snap.Temperature = temp
	t.snap.Setpoint = setpoint
	t.mu.Unlock()
}

// SetSafety records the safety monitor view.
func (t *Tracker) SetSafety(status string, active bool) {
	t.mu.Lock()
	t.snap.SafetyStatus = status
	t.snap.SafetyActive = active
	t.mu.Unlock()
}

// SetTimer records the countdown view.
func (t *Tracker) SetTimer(running bool, remaining time.Duration) {
	t.mu.Lock()
	t.snap.TimerRunning = running
	t.snap.TimerRemaining = remaining
	t.mu.Unlock()
}

// SetBusStats records event bus counters.
func (t *Tracker) SetBusStats(stats bus.Stats) {
	t.mu.Lock()
	t.snap.BusStats = stats
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
