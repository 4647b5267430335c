//go:build linux

package relay

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealRelay drives the heater relay through the Linux GPIO character device.
type RealRelay struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealRelay requests the given BCM pin as an output, initially inactive.
func NewRealRelay(pin int) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}

	return &RealRelay{
		chip: chip,
		line: line,
	}, nil
}

// Activate energizes the relay.
func (r *RealRelay) Activate() error {
	if err := r.line.SetValue(1); err != nil {
		return fmt.Errorf("set relay pin: %w", err)
	}
	return nil
}

// Deactivate de-energizes the relay.
func (r *RealRelay) Deactivate() error {
	if err := r.line.SetValue(0); err != nil {
		return fmt.Errorf("clear relay pin: %w", err)
	}
	return nil
}

// IsActive reads the line value back from the kernel, so a failed or
// partially applied command is still reported truthfully.
func (r *RealRelay) IsActive() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read relay pin: %w", err)
	}
	return v == 1, nil
}

// Close de-energizes the relay before releasing it. Reconfigures the pin to
// input with pull-down (matching Pi boot defaults) so external driver boards
// see a clean state across restarts.
func (r *RealRelay) Close() error {
	var errs []error

	if r.line != nil {
		if err := r.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("clear relay pin: %w", err))
		}
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure relay pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close relay pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
