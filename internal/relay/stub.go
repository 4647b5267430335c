//go:build !linux

package relay

import "errors"

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(pin int) (*RealRelay, error) {
	return nil, errors.New("relay: not supported on this platform (requires Linux)")
}

// Activate is not implemented on non-Linux platforms.
func (r *RealRelay) Activate() error {
	return errors.New("relay: not supported")
}

// Deactivate is not implemented on non-Linux platforms.
func (r *RealRelay) Deactivate() error {
	return errors.New("relay: not supported")
}

// IsActive is not implemented on non-Linux platforms.
func (r *RealRelay) IsActive() (bool, error) {
	return false, errors.New("relay: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealRelay) Close() error {
	return nil
}
