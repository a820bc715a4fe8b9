//go:build !linux

package hw

import "errors"

var errUnsupported = errors.New("hw: not supported on this platform (requires Linux)")

// RealDevice is not available on non-Linux platforms.
type RealDevice struct{}

// NewRealDevice returns a stub on non-Linux platforms; every operation fails.
func NewRealDevice(chipName string) *RealDevice {
	return &RealDevice{}
}

// SetMode is not implemented on non-Linux platforms.
func (d *RealDevice) SetMode(mode Mode) error { return errUnsupported }

// SetWarnings is a no-op on non-Linux platforms.
func (d *RealDevice) SetWarnings(on bool) {}

// ConfigurePin is not implemented on non-Linux platforms.
func (d *RealDevice) ConfigurePin(pin int, dir Direction, initial *Level) error {
	return errUnsupported
}

// Write is not implemented on non-Linux platforms.
func (d *RealDevice) Write(pin int, level Level) error { return errUnsupported }

// Read is not implemented on non-Linux platforms.
func (d *RealDevice) Read(pin int) (Level, error) { return Low, errUnsupported }

// TeardownAll is a no-op on non-Linux platforms.
func (d *RealDevice) TeardownAll() error { return nil }
