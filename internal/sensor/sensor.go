// Package sensor provides temperature input with hardware abstraction.
// The real implementation reads a kernel-exported thermal file; the fake
// implementation returns scripted readings for tests.
package sensor

import "fmt"

// Reader reads the current temperature.
type Reader interface {
	// ReadFahrenheit returns the current temperature in °F. A failed read
	// returns a *SensorError.
	ReadFahrenheit() (float64, error)

	// Close releases sensor resources.
	Close() error
}

// SensorError wraps a failed sensor read. The controller treats any read
// failure as "cannot heat" rather than crashing the control loop.
type SensorError struct {
	Op  string
	Err error
}

func (e *SensorError) Error() string {
	return fmt.Sprintf("sensor: %s: %v", e.Op, e.Err)
}

func (e *SensorError) Unwrap() error {
	return e.Err
}
