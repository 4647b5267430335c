package thermostat

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeney/garage-thermostat/internal/bus"
	"github.com/sweeney/garage-thermostat/internal/relay"
	"github.com/sweeney/garage-thermostat/internal/settings"
)

// Controller owns the thermostat runtime state and drives the heater relay.
// It recomputes on every temperature reading, sensor failure, and setting
// change; it never acts on a timer of its own. Runtime state is deliberately
// not persisted — resuming into a mid-cycle state after a crash would defeat
// the timing invariants.
type Controller struct {
	mu     sync.Mutex
	events *bus.Bus
	relay  relay.Relay
	state  *StateManager
	now    func() time.Time

	settings    Settings
	currentTemp *float64
	lastOnTime  time.Time
	lastOffTime time.Time
}

// New creates a Controller with the given collaborators and initial settings.
func New(events *bus.Bus, r relay.Relay, initial Settings) *Controller {
	c := &Controller{
		events:   events,
		relay:    r,
		now:      time.Now,
		settings: initial,
	}
	c.state = newStateManager(c)
	return c
}

// SetClock injects a clock for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Start subscribes the controller and forces the relay into a known state.
// Subscribe the controller before the settings manager so in-memory
// application precedes persistence.
func (c *Controller) Start() error {
	if !c.events.Subscribe(bus.EventTemperatureCurrent, c.handleTemperature) {
		return fmt.Errorf("thermostat: subscribe %s failed", bus.EventTemperatureCurrent)
	}
	if !c.events.Subscribe(bus.EventTempSettingChanged, c.handleSettingChange) {
		return fmt.Errorf("thermostat: subscribe %s failed", bus.EventTempSettingChanged)
	}
	if !c.events.Subscribe(bus.EventSensorError, c.handleSensorError) {
		return fmt.Errorf("thermostat: subscribe %s failed", bus.EventSensorError)
	}

	// Known-safe starting state: heater off.
	if err := c.relay.Deactivate(); err != nil {
		return fmt.Errorf("thermostat: initial deactivate: %w", err)
	}
	return nil
}

// handleTemperature records a reading and re-evaluates.
func (c *Controller) handleTemperature(event bus.Event) error {
	temp, ok := toFloat(event.Payload["temp"])
	if !ok {
		return fmt.Errorf("thermostat: temperature event without temp: %v", event.Payload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTemp = &temp
	c.evaluate()
	return nil
}

// handleSensorError marks the reading unknown and re-evaluates: a thermostat
// that cannot see the temperature cannot justify heating.
func (c *Controller) handleSensorError(bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTemp = nil
	c.evaluate()
	return nil
}

// handleSettingChange applies an accepted setting to the matching in-memory
// field and re-evaluates immediately, so a setpoint change can trigger an
// instant transition subject to the same timing invariants.
func (c *Controller) handleSettingChange(event bus.Event) error {
	name, _ := event.Payload["setting"].(string)
	value := event.Payload["value"]
	if err := settings.Validate(name, value); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case bus.SettingSetpoint:
		n, _ := toFloat(value)
		c.settings.Setpoint = n
	case bus.SettingTempDifferential:
		n, _ := toFloat(value)
		c.settings.Differential = n
	case bus.SettingCycleDelay:
		n, _ := toFloat(value)
		c.settings.CycleDelay = time.Duration(n * float64(time.Second))
	case bus.SettingMinRunTime:
		n, _ := toFloat(value)
		c.settings.MinRunTime = time.Duration(n * float64(time.Second))
	case bus.SettingHeaterMode:
		c.settings.Mode = Mode(value.(string))
	}

	c.evaluate()
	return nil
}

// EnableHeater requests heating by publishing a mode change rather than
// mutating state directly, keeping one code path for all mode transitions.
func (c *Controller) EnableHeater() {
	c.publishMode(ModeHeat)
}

// DisableHeater requests heating off. The relay still honors minimum run
// time before actually deactivating.
func (c *Controller) DisableHeater() {
	c.publishMode(ModeOff)
}

func (c *Controller) publishMode(mode Mode) {
	c.events.Publish(bus.EventTempSettingChanged, map[string]any{
		"setting":   bus.SettingHeaterMode,
		"value":     string(mode),
		"timestamp": float64(c.now().Unix()),
	})
}

// EmergencyShutdown cuts the relay immediately, ignoring minimum run time.
// Equipment protection yields to safety: this is the recovery action wired
// into critical safety conditions.
func (c *Controller) EmergencyShutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.Mode = ModeOff
	if err := c.relay.Deactivate(); err != nil {
		log.Printf("thermostat: emergency shutdown deactivate: %v", err)
	}
	c.lastOffTime = c.now()
	c.state.transition(StateDisabled, c.now())
}

// Shutdown forces the heater off at process teardown.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.relay.Deactivate(); err != nil {
		log.Printf("thermostat: shutdown deactivate: %v", err)
	}
}

// evaluate runs the control algorithm. Caller holds the lock.
//
// The relay is read through IsActive before every decision: hardware is
// authoritative, a previously failed command must not leave the controller
// acting on an imagined state.
func (c *Controller) evaluate() {
	now := c.now()

	active, err := c.relay.IsActive()
	if err != nil {
		c.handleHardwareError("is_active", err, now)
		return
	}

	if active {
		// Minimum run time dominates everything, including mode changes
		// and missing readings.
		if now.Sub(c.lastOnTime) < c.settings.MinRunTime {
			c.state.transition(StateMinRun, now)
			return
		}
		switch {
		case c.settings.Mode != ModeHeat:
			c.deactivate(now)
		case c.currentTemp == nil:
			// Cannot see the temperature: cannot justify heating.
			c.deactivate(now)
		case *c.currentTemp >= c.settings.Setpoint+c.settings.Differential:
			c.deactivate(now)
		default:
			c.state.transition(StateHeating, now)
		}
		return
	}

	// Relay inactive: cycle delay blocks reactivation.
	if !c.lastOffTime.IsZero() && now.Sub(c.lastOffTime) < c.settings.CycleDelay {
		c.state.transition(StateCycleDelay, now)
		return
	}
	if c.settings.Mode == ModeHeat && c.currentTemp != nil &&
		*c.currentTemp <= c.settings.Setpoint-c.settings.Differential {
		c.activate(now)
		return
	}
	if c.settings.Mode != ModeHeat {
		c.state.transition(StateDisabled, now)
	} else {
		c.state.transition(StateIdle, now)
	}
}

// activate commands the relay on and confirms through IsActive before
// recording the activation.
func (c *Controller) activate(now time.Time) {
	if err := c.relay.Activate(); err != nil {
		c.handleHardwareError("activate", err, now)
		return
	}
	active, err := c.relay.IsActive()
	if err != nil || !active {
		c.handleHardwareError("activate_verify", fmt.Errorf("relay did not engage (err=%v)", err), now)
		return
	}

	c.lastOnTime = now
	c.state.transition(StateHeating, now)
	c.events.Publish(bus.EventHeaterActivated, map[string]any{
		"temp":      c.tempPayload(),
		"setpoint":  c.settings.Setpoint,
		"timestamp": float64(now.Unix()),
	})
}

// deactivate commands the relay off and confirms through IsActive before
// recording the deactivation.
func (c *Controller) deactivate(now time.Time) {
	if err := c.relay.Deactivate(); err != nil {
		c.handleHardwareError("deactivate", err, now)
		return
	}
	active, err := c.relay.IsActive()
	if err != nil || active {
		c.handleHardwareError("deactivate_verify", fmt.Errorf("relay did not release (err=%v)", err), now)
		return
	}

	c.lastOffTime = now
	if c.settings.Mode == ModeHeat {
		c.state.transition(StateIdle, now)
	} else {
		c.state.transition(StateDisabled, now)
	}
	c.events.Publish(bus.EventHeaterDeactivated, map[string]any{
		"temp":      c.tempPayload(),
		"setpoint":  c.settings.Setpoint,
		"timestamp": float64(now.Unix()),
	})
}

// handleHardwareError logs and publishes a failed relay interaction, then
// tries to reach the known-safe deactivated state if minimum run time
// allows. The control loop continues on its normal cadence.
func (c *Controller) handleHardwareError(op string, err error, now time.Time) {
	log.Printf("thermostat: relay %s failed: %v", op, err)
	c.events.Publish(bus.EventHardwareError, map[string]any{
		"op":        op,
		"error":     err.Error(),
		"timestamp": float64(now.Unix()),
	})

	if op != "deactivate" && op != "deactivate_verify" &&
		now.Sub(c.lastOnTime) >= c.settings.MinRunTime {
		if derr := c.relay.Deactivate(); derr != nil {
			log.Printf("thermostat: safe deactivate failed: %v", derr)
		}
	}
}

// State returns the current operating state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.State()
}

// Settings returns a copy of the in-memory settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// CurrentTemp returns the last known reading, if any.
func (c *Controller) CurrentTemp() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTemp == nil {
		return 0, false
	}
	return *c.currentTemp, true
}

// tempString formats the current reading for logs.
func (c *Controller) tempString() string {
	if c.currentTemp == nil {
		return "temp unknown"
	}
	return fmt.Sprintf("%.1f°F", *c.currentTemp)
}

// tempPayload is the current reading for event payloads, nil when unset.
func (c *Controller) tempPayload() any {
	if c.currentTemp == nil {
		return nil
	}
	return *c.currentTemp
}

// toFloat coerces the numeric types event payloads carry.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
