// Package guard arbitrates hardware initialization and pin ownership for the
// whole process. Every consumer goes through one Guard; it prevents two
// callers from configuring the numbering mode differently or driving a pin
// after global teardown.
package guard

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/relay-control/internal/hw"
)

// Sentinel errors. Callers test with errors.Is.
var (
	// ErrNotInitialized is returned when a pin operation precedes Initialize.
	ErrNotInitialized = errors.New("guard: not initialized")

	// ErrConfigConflict is returned when Initialize or RegisterPin would
	// change established configuration.
	ErrConfigConflict = errors.New("guard: configuration conflict")

	// ErrFinalized is returned for any operation after FinalizeAll.
	ErrFinalized = errors.New("guard: already finalized")
)

// pinConfig records the parameters a pin was registered with, so a
// re-registration with different parameters can be rejected.
type pinConfig struct {
	dir     hw.Direction
	initial *hw.Level
}

func (p pinConfig) equal(o pinConfig) bool {
	if p.dir != o.dir {
		return false
	}
	if (p.initial == nil) != (o.initial == nil) {
		return false
	}
	return p.initial == nil || *p.initial == *o.initial
}

// Guard is the single authority over hardware mode, pin registration, and
// global teardown. All state lives behind one mutex: pin configuration races
// are a correctness hazard, so every operation is fully serialized.
type Guard struct {
	mu sync.Mutex

	dev         hw.Device
	initialized bool
	finalized   bool
	mode        hw.Mode
	warnings    bool
	registered  map[int]pinConfig
}

// New creates a Guard over the given device. The Guard takes ownership of
// the device's lifecycle; nothing else should call TeardownAll on it.
func New(dev hw.Device) *Guard {
	return &Guard{
		dev:        dev,
		registered: make(map[int]pinConfig),
	}
}

// Initialize establishes the numbering mode and warning policy. Idempotent:
// a repeat call with the same mode is a no-op; a different mode is rejected
// with ErrConfigConflict. A repeat call with different warnings is tolerated
// with a logged warning, keeping the established policy.
func (g *Guard) Initialize(mode hw.Mode, warnings bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return fmt.Errorf("initialize: %w", ErrFinalized)
	}

	if g.initialized {
		if g.mode != mode {
			return fmt.Errorf("initialize: mode already %s, requested %s: %w",
				g.mode, mode, ErrConfigConflict)
		}
		if g.warnings != warnings {
			log.Printf("guard: warnings already %v, ignoring request for %v", g.warnings, warnings)
		}
		return nil
	}

	log.Printf("guard: initializing mode=%s warnings=%v", mode, warnings)
	if err := g.dev.SetMode(mode); err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	g.dev.SetWarnings(warnings)
	g.mode = mode
	g.warnings = warnings
	g.initialized = true
	return nil
}

// RegisterPin configures a pin and claims it. Re-registering a pin with
// identical parameters is a no-op; different parameters are rejected with
// ErrConfigConflict.
func (g *Guard) RegisterPin(pin int, dir hw.Direction, initial *hw.Level) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return fmt.Errorf("register pin %d: %w", pin, ErrFinalized)
	}
	if !g.initialized {
		return fmt.Errorf("register pin %d: %w", pin, ErrNotInitialized)
	}

	want := pinConfig{dir: dir, initial: initial}
	if have, ok := g.registered[pin]; ok {
		if have.equal(want) {
			return nil
		}
		return fmt.Errorf("register pin %d: already registered with different parameters: %w",
			pin, ErrConfigConflict)
	}

	if err := g.dev.ConfigurePin(pin, dir, initial); err != nil {
		return fmt.Errorf("configure pin %d: %w", pin, err)
	}
	g.registered[pin] = want
	return nil
}

// SetLevel drives a registered output pin. Writing to an unregistered pin is
// logged as a warning but still attempted: recovery paths may legitimately
// drive a pin they released.
func (g *Guard) SetLevel(pin int, level hw.Level) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return fmt.Errorf("set pin %d: %w", pin, ErrFinalized)
	}
	if _, ok := g.registered[pin]; !ok {
		log.Printf("guard: writing to unregistered pin %d", pin)
	}
	if err := g.dev.Write(pin, level); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// ReadLevel reads the current level of a pin. Reads from an unregistered pin
// warn but are still attempted, matching SetLevel.
func (g *Guard) ReadLevel(pin int) (hw.Level, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.finalized {
		return hw.Low, fmt.Errorf("read pin %d: %w", pin, ErrFinalized)
	}
	if _, ok := g.registered[pin]; !ok {
		log.Printf("guard: reading from unregistered pin %d", pin)
	}
	level, err := g.dev.Read(pin)
	if err != nil {
		return hw.Low, fmt.Errorf("read pin %d: %w", pin, err)
	}
	return level, nil
}

// ReleasePin removes a pin from the registration set. No hardware side
// effect: teardown is global and happens only in FinalizeAll. Releasing an
// unregistered pin is a no-op.
func (g *Guard) ReleasePin(pin int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.registered[pin]; ok {
		delete(g.registered, pin)
	}
}

// IsRegistered reports whether the pin is currently claimed.
func (g *Guard) IsRegistered(pin int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.registered[pin]
	return ok
}

// FinalizeAll performs the one-time global hardware teardown. After it
// returns, every other operation fails with ErrFinalized. Calling it before
// Initialize or a second time warns and returns nil.
func (g *Guard) FinalizeAll() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		log.Printf("guard: skipping finalize, never initialized")
		return nil
	}
	if g.finalized {
		log.Printf("guard: skipping finalize, already done")
		return nil
	}

	log.Printf("guard: finalizing, releasing %d pins", len(g.registered))
	err := g.dev.TeardownAll()
	g.finalized = true
	g.registered = make(map[int]pinConfig)
	if err != nil {
		// Teardown failures are logged but the Guard still transitions to
		// finalized: the process is exiting and nothing can retry.
		log.Printf("guard: teardown error: %v", err)
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}
