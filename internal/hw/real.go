//go:build linux

package hw

import (
	"errors"
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

// RealDevice drives actual hardware through the Linux GPIO character device.
// The chip is opened on SetMode and held until TeardownAll.
type RealDevice struct {
	chipName string
	chip     *gpiocdev.Chip
	mode     Mode
	warnings bool

	// lines holds requested lines keyed by user pin number (pre-translation).
	lines map[int]*gpiocdev.Line
}

// NewRealDevice creates a Device backed by the named GPIO chip
// (normally "gpiochip0" on a Raspberry Pi).
func NewRealDevice(chipName string) *RealDevice {
	return &RealDevice{
		chipName: chipName,
		lines:    make(map[int]*gpiocdev.Line),
	}
}

// SetMode opens the GPIO chip and fixes the numbering scheme.
func (d *RealDevice) SetMode(mode Mode) error {
	if d.chip != nil {
		d.mode = mode
		return nil
	}
	chip, err := gpiocdev.NewChip(d.chipName)
	if err != nil {
		return fmt.Errorf("open gpio chip %s: %w", d.chipName, err)
	}
	d.chip = chip
	d.mode = mode
	return nil
}

// SetWarnings controls whether reconfiguring an already-claimed pin is logged.
func (d *RealDevice) SetWarnings(on bool) {
	d.warnings = on
}

// ConfigurePin requests the pin's line from the chip, or reconfigures it in
// place if this device already holds it.
func (d *RealDevice) ConfigurePin(pin int, dir Direction, initial *Level) error {
	if d.chip == nil {
		return errors.New("hw: mode not set")
	}
	offset, err := translatePin(d.mode, pin)
	if err != nil {
		return err
	}

	if line, ok := d.lines[pin]; ok {
		if d.warnings {
			log.Printf("hw: pin %d already claimed, reconfiguring", pin)
		}
		if dir == Output {
			return line.Reconfigure(gpiocdev.AsOutput(initialValue(initial)))
		}
		return line.Reconfigure(gpiocdev.AsInput)
	}

	var line *gpiocdev.Line
	if dir == Output {
		line, err = d.chip.RequestLine(offset, gpiocdev.AsOutput(initialValue(initial)))
	} else {
		line, err = d.chip.RequestLine(offset, gpiocdev.AsInput)
	}
	if err != nil {
		return fmt.Errorf("request pin %d (offset %d): %w", pin, offset, err)
	}
	d.lines[pin] = line
	return nil
}

// Write drives an output pin to the given level.
func (d *RealDevice) Write(pin int, level Level) error {
	line, ok := d.lines[pin]
	if !ok {
		return fmt.Errorf("hw: pin %d not configured", pin)
	}
	if err := line.SetValue(int(level)); err != nil {
		return fmt.Errorf("write pin %d: %w", pin, err)
	}
	return nil
}

// Read returns the current level of a pin.
func (d *RealDevice) Read(pin int) (Level, error) {
	line, ok := d.lines[pin]
	if !ok {
		return Low, fmt.Errorf("hw: pin %d not configured", pin)
	}
	v, err := line.Value()
	if err != nil {
		return Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

// TeardownAll reverts every claimed line to input, closes it, and closes the
// chip. Reverting to input matches Pi boot defaults so externally connected
// relay boards see a clean state across restarts.
func (d *RealDevice) TeardownAll() error {
	var errs []error

	for pin, line := range d.lines {
		if err := line.Reconfigure(gpiocdev.AsInput); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	d.lines = make(map[int]*gpiocdev.Line)

	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("teardown errors: %v", errs)
	}
	return nil
}

func initialValue(initial *Level) int {
	if initial == nil {
		return 0
	}
	return int(*initial)
}
