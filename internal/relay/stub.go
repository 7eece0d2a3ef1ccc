//go:build !linux

package relay

import "errors"

// Default BCM pin assignments for the shift-register control lines.
const (
	DefaultPinData  = 13
	DefaultPinClock = 14
	DefaultPinLatch = 12
	DefaultPinOE    = 33
)

// RealDriver is not available on non-Linux platforms.
type RealDriver struct{}

// NewRealDriver returns an error on non-Linux platforms.
func NewRealDriver(pinData, pinClock, pinLatch, pinOE int) (*RealDriver, error) {
	return nil, errors.New("relay: not supported on this platform (requires Linux)")
}

// Shift is not implemented on non-Linux platforms.
func (d *RealDriver) Shift(word uint16) error {
	return errors.New("relay: not supported")
}

// SetOutputEnable is not implemented on non-Linux platforms.
func (d *RealDriver) SetOutputEnable(on bool) error {
	return errors.New("relay: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *RealDriver) Close() error {
	return nil
}
