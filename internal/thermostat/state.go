package thermostat

import (
	"log"
	"time"
)

// StateManager tracks the thermostat's operating state and logs the
// log-worthy transitions. It reads the controller's runtime fields but never
// mutates them.
type StateManager struct {
	controller *Controller
	state      State
	lastState  State
}

func newStateManager(c *Controller) *StateManager {
	return &StateManager{
		controller: c,
		state:      StateIdle,
	}
}

// State returns the current operating state.
func (s *StateManager) State() State {
	return s.state
}

// LastState returns the state before the most recent transition.
func (s *StateManager) LastState() State {
	return s.lastState
}

// transition moves to newState, logging anything worth a log line.
// A no-op transition is silent. Caller holds the controller lock.
func (s *StateManager) transition(newState State, now time.Time) {
	if newState == s.state {
		return
	}
	s.lastState = s.state
	s.state = newState

	c := s.controller
	switch newState {
	case StateCycleDelay:
		remaining := c.settings.CycleDelay - now.Sub(c.lastOffTime)
		log.Printf("thermostat: %s, setpoint %.1f°F - cycle delay in effect (%ds remaining)",
			c.tempString(), c.settings.Setpoint, int(remaining.Seconds()))
	case StateMinRun:
		remaining := c.settings.MinRunTime - now.Sub(c.lastOnTime)
		if remaining > 0 {
			log.Printf("thermostat: minimum run time in effect (%ds remaining)",
				int(remaining.Seconds()))
		}
	case StateHeating:
		log.Printf("thermostat: %s below setpoint %.1f°F - turning ON",
			c.tempString(), c.settings.Setpoint)
	case StateIdle:
		if s.lastState == StateHeating {
			log.Printf("thermostat: %s above setpoint %.1f°F - turning OFF",
				c.tempString(), c.settings.Setpoint)
		}
	case StateDisabled:
		log.Printf("thermostat: disabled")
	}
}
