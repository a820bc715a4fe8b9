package hw

import (
	"fmt"
	"sync"
)

// FakeDevice is a test double that records every operation and keeps pin
// levels in memory. Safe for concurrent use so tests can exercise pulse
// timers against foreground calls.
type FakeDevice struct {
	mu sync.Mutex

	// ModeSet holds the mode passed to SetMode; ModeCalls counts calls.
	ModeSet   Mode
	ModeCalls int

	// Warnings holds the last SetWarnings value.
	Warnings bool

	// Configured records ConfigurePin calls keyed by pin.
	Configured map[int]FakePinConfig

	// Levels holds the current level of each pin.
	Levels map[int]Level

	// Writes records every Write in order.
	Writes []FakeWrite

	// TornDown tracks whether TeardownAll was called.
	TornDown bool

	// Error injection. A non-nil value is returned by the matching call.
	ModeErr      error
	ConfigureErr map[int]error
	WriteErr     map[int]error
	ReadErr      map[int]error
	TeardownErr  error
}

// FakePinConfig records the parameters of a ConfigurePin call.
type FakePinConfig struct {
	Dir     Direction
	Initial *Level
}

// FakeWrite records a single Write call.
type FakeWrite struct {
	Pin   int
	Level Level
}

// NewFakeDevice creates an empty FakeDevice.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{
		Configured:   make(map[int]FakePinConfig),
		Levels:       make(map[int]Level),
		ConfigureErr: make(map[int]error),
		WriteErr:     make(map[int]error),
		ReadErr:      make(map[int]error),
	}
}

// SetMode records the mode.
func (d *FakeDevice) SetMode(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ModeErr != nil {
		return d.ModeErr
	}
	d.ModeSet = mode
	d.ModeCalls++
	return nil
}

// SetWarnings records the warnings flag.
func (d *FakeDevice) SetWarnings(on bool) {
	d.mu.Lock()
	d.Warnings = on
	d.mu.Unlock()
}

// ConfigurePin records the configuration and applies any initial level.
func (d *FakeDevice) ConfigurePin(pin int, dir Direction, initial *Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ConfigureErr[pin]; err != nil {
		return err
	}
	d.Configured[pin] = FakePinConfig{Dir: dir, Initial: initial}
	if initial != nil {
		d.Levels[pin] = *initial
	} else if _, ok := d.Levels[pin]; !ok {
		d.Levels[pin] = Low
	}
	return nil
}

// Write records the write and updates the pin level.
func (d *FakeDevice) Write(pin int, level Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.WriteErr[pin]; err != nil {
		return err
	}
	d.Writes = append(d.Writes, FakeWrite{Pin: pin, Level: level})
	d.Levels[pin] = level
	return nil
}

// Read returns the current level of the pin.
func (d *FakeDevice) Read(pin int) (Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ReadErr[pin]; err != nil {
		return Low, err
	}
	level, ok := d.Levels[pin]
	if !ok {
		return Low, fmt.Errorf("hw: pin %d not configured", pin)
	}
	return level, nil
}

// TeardownAll marks the device torn down.
func (d *FakeDevice) TeardownAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.TeardownErr != nil {
		return d.TeardownErr
	}
	d.TornDown = true
	return nil
}

// PinLevel returns the current level of a pin without error handling.
// Useful for test assertions.
func (d *FakeDevice) PinLevel(pin int) Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Levels[pin]
}

// WriteCount returns the number of writes recorded for a pin.
func (d *FakeDevice) WriteCount(pin int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.Writes {
		if w.Pin == pin {
			n++
		}
	}
	return n
}
