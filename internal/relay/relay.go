// Package relay provides heater relay control with hardware abstraction.
// The real implementation drives a Linux GPIO character device line.
// The fake implementation allows testing without hardware.
package relay

// Relay controls the heater relay. Commands may fail; callers must treat
// IsActive as authoritative for hardware state rather than assuming a
// command succeeded.
type Relay interface {
	// Activate energizes the relay.
	Activate() error

	// Deactivate de-energizes the relay.
	Deactivate() error

	// IsActive reports the relay's actual state as read from hardware.
	IsActive() (bool, error)

	// Close releases relay resources, leaving the relay de-energized.
	Close() error
}

// DefaultPin is the BCM pin number driving the heater relay.
const DefaultPin = 15
