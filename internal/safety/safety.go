// Package safety monitors named safety conditions and forces an emergency
// stop when a severe condition crosses its violation threshold. Once stopped,
// the monitor stays down until explicitly reset: an unmonitored automatic
// restart is never safe.
package safety

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
)

// DefaultCheckInterval bounds how often CheckSafety does real work, keeping
// the cost predictable on a constrained CPU.
const DefaultCheckInterval = time.Second

// HistorySize is the number of retained violation records.
const HistorySize = 16

// Severity classifies how dangerous a violated condition is. High and
// Critical violations escalate to an emergency stop.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Status describes the health of a condition or of the whole monitor.
type Status string

const (
	StatusNormal    Status = "normal"
	StatusWarning   Status = "warning"
	StatusViolation Status = "violation"
	StatusFailure   Status = "failure"
)

// Condition is one monitored safety check. Owned exclusively by the Monitor;
// callers interact through condition names.
type Condition struct {
	Name      string
	Check     func() bool
	Severity  Severity
	Threshold int
	Recovery  func()

	violationCount int
	status         Status
}

// Violation is one recorded threshold crossing.
type Violation struct {
	Condition string
	Severity  Severity
	Status    Status
	Time      time.Time
}

// Monitor evaluates registered conditions on its own cadence and escalates
// violations. The event bus is optional; with a nil bus violations are only
// logged and recovery-actioned.
type Monitor struct {
	mu         sync.Mutex
	events     *bus.Bus
	conditions map[string]*Condition
	order      []string
	stops      []func()
	history    []Violation

	checkInterval time.Duration
	lastCheck     time.Time
	lastResult    bool
	active        bool
	status        Status
	now           func() time.Time
}

// New creates an active Monitor publishing to events (which may be nil).
func New(events *bus.Bus) *Monitor {
	return &Monitor{
		events:        events,
		conditions:    make(map[string]*Condition),
		checkInterval: DefaultCheckInterval,
		lastResult:    true,
		active:        true,
		status:        StatusNormal,
		now:           time.Now,
	}
}

// SetClock injects a clock for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetCheckInterval overrides the throttle interval.
func (m *Monitor) SetCheckInterval(d time.Duration) {
	m.mu.Lock()
	m.checkInterval = d
	m.mu.Unlock()
}

// AddCondition registers a condition. A duplicate name overwrites the
// existing condition but keeps its registration position. A threshold < 1
// is treated as 1.
func (m *Monitor) AddCondition(name string, check func() bool, severity Severity, threshold int, recovery func()) {
	if threshold < 1 {
		threshold = 1
	}
	cond := &Condition{
		Name:      name,
		Check:     check,
		Severity:  severity,
		Threshold: threshold,
		Recovery:  recovery,
		status:    StatusNormal,
	}

	m.mu.Lock()
	if _, exists := m.conditions[name]; !exists {
		m.order = append(m.order, name)
	}
	m.conditions[name] = cond
	m.mu.Unlock()
}

// RegisterEmergencyStop adds a callback run by EmergencyStop. Callbacks run
// to completion in registration order; there is deliberately no timeout.
func (m *Monitor) RegisterEmergencyStop(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.stops = append(m.stops, fn)
	m.mu.Unlock()
}

// CheckSafety evaluates every condition and returns true when all are safe.
// Calls inside the throttle interval return the previous result without
// re-evaluating. A stopped monitor reports unsafe without evaluating.
func (m *Monitor) CheckSafety() bool {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return false
	}
	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.checkInterval {
		result := m.lastResult
		m.mu.Unlock()
		return result
	}
	m.lastCheck = now

	conds := make([]*Condition, 0, len(m.order))
	for _, name := range m.order {
		conds = append(conds, m.conditions[name])
	}
	m.mu.Unlock()

	allSafe := true
	for _, cond := range conds {
		if !m.evaluate(cond, now) {
			allSafe = false
		}
	}

	m.mu.Lock()
	m.lastResult = allSafe
	if allSafe && m.status != StatusFailure {
		m.status = StatusNormal
	}
	m.mu.Unlock()
	return allSafe
}

// evaluate runs one condition's check and applies threshold, recovery and
// escalation rules. Returns false when the condition is currently unsafe.
func (m *Monitor) evaluate(cond *Condition, now time.Time) bool {
	safe, panicked := runCheck(cond)

	m.mu.Lock()
	if safe && !panicked {
		cond.violationCount = 0
		if cond.status != StatusFailure {
			cond.status = StatusNormal
		}
		m.mu.Unlock()
		return true
	}

	cond.violationCount++
	if panicked {
		cond.status = StatusFailure
	} else if cond.violationCount < cond.Threshold {
		cond.status = StatusWarning
	}

	if cond.violationCount < cond.Threshold {
		m.mu.Unlock()
		return false
	}

	if !panicked {
		cond.status = StatusViolation
	}

	// Past the threshold the condition just stays in violation; recovery
	// and escalation already ran on the crossing and must not repeat.
	if cond.violationCount > cond.Threshold {
		m.mu.Unlock()
		return false
	}

	// Threshold crossed: record, recover, escalate.
	m.recordLocked(Violation{
		Condition: cond.Name,
		Severity:  cond.Severity,
		Status:    cond.status,
		Time:      now,
	})
	status := cond.status
	count := cond.violationCount
	m.mu.Unlock()

	log.Printf("safety: condition %s violated (severity=%s count=%d)",
		cond.Name, cond.Severity, count)

	if cond.Recovery != nil {
		cond.Recovery()
	}
	if m.events != nil {
		m.events.Publish(bus.EventSafetyViolation, map[string]any{
			"condition": cond.Name,
			"severity":  cond.Severity.String(),
			"status":    string(status),
		})
	}
	if cond.Severity >= SeverityHigh {
		m.EmergencyStop()
	}
	return false
}

// runCheck isolates a panicking check; a check that panics is fail-unsafe.
func runCheck(cond *Condition) (safe bool, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("safety: check %s panicked: %v", cond.Name, r)
			safe = false
			panicked = true
		}
	}()
	return cond.Check(), false
}

// EmergencyStop invokes every registered stop callback, marks the monitor
// failed, and disables further automatic checking. It runs to completion or
// not at all; a timed-out emergency stop is a contradiction in terms.
func (m *Monitor) EmergencyStop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.status = StatusFailure
	m.lastResult = false
	stops := make([]func(), len(m.stops))
	copy(stops, m.stops)
	m.mu.Unlock()

	log.Printf("safety: EMERGENCY STOP")
	for _, stop := range stops {
		stop()
	}
}

// Reset reactivates a stopped monitor and clears condition state. Only an
// explicit external call may restart automatic checking.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = true
	m.status = StatusNormal
	m.lastResult = true
	m.lastCheck = time.Time{}
	for _, cond := range m.conditions {
		cond.violationCount = 0
		cond.status = StatusNormal
	}
	log.Printf("safety: monitor reset")
}

// Active reports whether automatic checking is enabled.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Status returns the monitor-wide status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ConditionStatus returns the status of a named condition.
func (m *Monitor) ConditionStatus(name string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cond, ok := m.conditions[name]
	if !ok {
		return "", false
	}
	return cond.status, true
}

// Violations returns the retained violation records, oldest first.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Violation, len(m.history))
	copy(result, m.history)
	return result
}

// recordLocked appends to the bounded violation history. Caller holds mu.
func (m *Monitor) recordLocked(v Violation) {
	m.history = append(m.history, v)
	if len(m.history) > HistorySize {
		m.history = m.history[len(m.history)-HistorySize:]
	}
}
