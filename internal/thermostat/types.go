// Package thermostat contains the hysteresis control logic and equipment
// protection timing for the heater. The controller is entirely event-driven:
// temperature readings and setting changes arrive on the bus, and the only
// outputs are relay commands and their confirmation events. Time is always
// injectable; the package never sleeps.
package thermostat

import "time"

// Mode is the user-selected heater mode.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
)

// Settings holds the thermostat configuration applied in memory. Values
// arrive as temp_setting_changed events; persistence lives elsewhere.
type Settings struct {
	// Setpoint is the target temperature in °F.
	Setpoint float64

	// Differential is the hysteresis band in °F: heat below
	// Setpoint-Differential, stop above Setpoint+Differential.
	Differential float64

	// MinRunTime is the shortest permitted on-period once activated,
	// protecting the relay and heater from short-cycling.
	MinRunTime time.Duration

	// CycleDelay is the shortest permitted off-period before reactivation.
	CycleDelay time.Duration

	// Mode enables or disables heating.
	Mode Mode
}

// DefaultSettings returns the factory configuration used until persisted
// settings are restored.
func DefaultSettings() Settings {
	return Settings{
		Setpoint:     90,
		Differential: 2.0,
		MinRunTime:   30 * time.Second,
		CycleDelay:   10 * time.Second,
		Mode:         ModeOff,
	}
}

// State is the thermostat's operating state, tracked for observability.
type State string

const (
	// StateIdle: relay off, mode heat, temperature inside the band.
	StateIdle State = "idle"

	// StateHeating: relay on and allowed to stay on.
	StateHeating State = "heating"

	// StateCycleDelay: relay off and reactivation blocked until the
	// cycle delay has elapsed.
	StateCycleDelay State = "cycle_delay"

	// StateMinRun: relay on and deactivation blocked until the minimum
	// run time has elapsed. Dominates mode changes: equipment protection
	// wins over user intent.
	StateMinRun State = "min_run"

	// StateDisabled: mode is off and the relay is off.
	StateDisabled State = "disabled"
)
