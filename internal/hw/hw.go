// Package hw provides digital output/input pin access with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package hw

import "fmt"

// Level is the electrical state driven onto or read from a pin.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// String returns "LOW" or "HIGH".
func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Direction configures a pin as input or output.
type Direction int

const (
	Input Direction = iota
	Output
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == Output {
		return "OUT"
	}
	return "IN"
}

// Mode selects the pin numbering scheme for the whole process.
type Mode int

const (
	// ModeBCM numbers pins by Broadcom GPIO offset (gpiochip0 line number).
	ModeBCM Mode = iota
	// ModeBoard numbers pins by physical position on the 40-pin header.
	ModeBoard
)

// String returns "BCM" or "BOARD".
func (m Mode) String() string {
	if m == ModeBoard {
		return "BOARD"
	}
	return "BCM"
}

// Device is the capability set the rest of the daemon depends on.
// Implementations must tolerate being called from multiple goroutines
// only if the caller serializes access; Device itself makes no
// concurrency guarantees.
type Device interface {
	// SetMode fixes the pin numbering scheme. Must be called before any
	// pin operation.
	SetMode(mode Mode) error

	// SetWarnings enables or disables driver-level reuse warnings.
	SetWarnings(on bool)

	// ConfigurePin configures a pin for the given direction. For outputs,
	// a non-nil initial sets the starting level.
	ConfigurePin(pin int, dir Direction, initial *Level) error

	// Write drives an output pin to the given level.
	Write(pin int, level Level) error

	// Read returns the current level of a pin.
	Read(pin int) (Level, error)

	// TeardownAll releases every claimed pin and closes the device.
	// Irreversible for the life of the Device.
	TeardownAll() error
}

// boardToBCM maps physical 40-pin header positions to BCM offsets.
// Power and ground positions are absent.
var boardToBCM = map[int]int{
	3: 2, 5: 3, 7: 4, 8: 14, 10: 15,
	11: 17, 12: 18, 13: 27, 15: 22, 16: 23,
	18: 24, 19: 10, 21: 9, 22: 25, 23: 11,
	24: 8, 26: 7, 27: 0, 28: 1, 29: 5,
	31: 6, 32: 12, 33: 13, 35: 19, 36: 16,
	37: 26, 38: 20, 40: 21,
}

// translatePin converts a user pin number to a gpiochip0 line offset
// under the given mode.
func translatePin(mode Mode, pin int) (int, error) {
	if mode == ModeBCM {
		return pin, nil
	}
	offset, ok := boardToBCM[pin]
	if !ok {
		return 0, fmt.Errorf("board pin %d is not a GPIO position", pin)
	}
	return offset, nil
}
