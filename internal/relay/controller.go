// Package relay maps logical relay numbers to physical pins, holds the
// persisted on/off state, and schedules momentary pulses. All hardware access
// goes through the guard; nothing here touches the device directly.
package relay

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/relay-control/internal/guard"
	"github.com/sweeney/relay-control/internal/hw"
)

// Sentinel errors. Callers test with errors.Is.
var (
	// ErrNotReady is returned when an operation precedes a successful Setup.
	ErrNotReady = errors.New("relay: controller not set up")

	// ErrUnknownRelay is returned for a relay number outside the mapping.
	ErrUnknownRelay = errors.New("relay: unknown relay")

	// ErrPulseInProgress is returned when a state change is rejected because
	// the relay is mid-pulse. The pulse owns the relay for its duration.
	ErrPulseInProgress = errors.New("relay: pulse in progress")

	// ErrPersist marks a state change that reached the hardware but could
	// not be recorded on disk. Memory and hardware hold the new state; only
	// the on-disk record is stale.
	ErrPersist = errors.New("relay: state persistence failed")
)

// EventType labels a relay lifecycle event.
type EventType string

const (
	EventSet        EventType = "SET"
	EventPulseStart EventType = "PULSE_START"
	EventPulseEnd   EventType = "PULSE_END"
)

// Event describes one relay state transition for external observers.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Relay     int
	On        bool          // target state for SET; true during a pulse
	Duration  time.Duration // pulse duration, PULSE_START only
}

// Notifier receives relay events. Implementations should be quick; a slow or
// failing notifier delays the calling operation but never fails it.
type Notifier interface {
	Notify(event Event) error
}

// Controller owns the logical relay state for one relay group.
type Controller struct {
	pins      map[int]int // relay number -> physical pin, fixed at construction
	statePath string
	g         *guard.Guard
	activeLow bool
	notifier  Notifier

	mu     sync.Mutex
	ready  bool
	states map[int]bool
	pulses map[int]*time.Timer // relays currently mid-pulse
}

// New creates a Controller for the given relay-to-pin mapping. The mapping is
// copied and immutable afterwards. Duplicate physical pins are a construction
// error: two relays driving one pin is a wiring mistake that must fail fast.
func New(g *guard.Guard, pins map[int]int, statePath string, activeLow bool) (*Controller, error) {
	if len(pins) == 0 {
		return nil, errors.New("relay: empty pin mapping")
	}

	seen := make(map[int]int, len(pins))
	copied := make(map[int]int, len(pins))
	for relay, pin := range pins {
		if other, ok := seen[pin]; ok {
			return nil, fmt.Errorf("relay: relays %d and %d share pin %d", min(relay, other), max(relay, other), pin)
		}
		seen[pin] = relay
		copied[relay] = pin
	}

	states := make(map[int]bool, len(pins))
	for relay := range pins {
		states[relay] = false
	}

	return &Controller{
		pins:      copied,
		statePath: statePath,
		g:         g,
		activeLow: activeLow,
		states:    states,
		pulses:    make(map[int]*time.Timer),
	}, nil
}

// SetNotifier installs an event notifier. Call before Setup; nil disables
// notifications.
func (c *Controller) SetNotifier(n Notifier) {
	c.notifier = n
}

// Relays returns the configured relay numbers in ascending order.
func (c *Controller) Relays() []int {
	relays := make([]int, 0, len(c.pins))
	for r := range c.pins {
		relays = append(relays, r)
	}
	sort.Ints(relays)
	return relays
}

// Pin returns the physical pin for a relay.
func (c *Controller) Pin(relay int) (int, bool) {
	pin, ok := c.pins[relay]
	return pin, ok
}

// levelFor maps a logical state to the physical level. Relay boards are
// commonly active-low: energized (ON) means the pin is driven LOW.
func (c *Controller) levelFor(on bool) hw.Level {
	if c.activeLow {
		on = !on
	}
	if on {
		return hw.High
	}
	return hw.Low
}

// Setup loads persisted state, registers every pin as an output through the
// guard, and drives each pin to its loaded state. A second Setup without an
// intervening Cleanup is a warned no-op that repeats no hardware writes.
func (c *Controller) Setup() error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		log.Printf("relay: setup already completed")
		return nil
	}
	c.mu.Unlock()

	states, err := loadStates(c.statePath, c.Relays())
	if err != nil {
		log.Printf("relay: %v, using defaults", err)
	} else {
		log.Printf("relay: loaded state from %s", c.statePath)
	}

	for _, relay := range c.Relays() {
		pin := c.pins[relay]
		initial := c.levelFor(states[relay])
		if err := c.g.RegisterPin(pin, hw.Output, &initial); err != nil {
			return fmt.Errorf("setup relay %d: %w", relay, err)
		}
		log.Printf("relay: %d (pin %d) initially %s", relay, pin, onOff(states[relay]))
	}

	c.mu.Lock()
	c.states = states
	c.ready = true
	c.mu.Unlock()
	log.Printf("relay: setup complete, %d relays", len(c.pins))
	return nil
}

// State returns the logical state of one relay. Pure in-memory read.
func (c *Controller) State(relay int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	on, ok := c.states[relay]
	if !ok {
		return false, fmt.Errorf("relay %d: %w", relay, ErrUnknownRelay)
	}
	return on, nil
}

// AllStates returns an independent copy of the logical state map.
func (c *Controller) AllStates() map[int]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := make(map[int]bool, len(c.states))
	for r, on := range c.states {
		snapshot[r] = on
	}
	return snapshot
}

// Set drives the relay to the desired state and persists the change. The
// request is rejected with ErrPulseInProgress while the relay is mid-pulse.
// If persistence fails after the hardware write, the new state stands in
// memory and on the pin; the error reports the stale on-disk record.
func (c *Controller) Set(relay int, on bool) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return fmt.Errorf("set relay %d: %w", relay, ErrNotReady)
	}
	pin, ok := c.pins[relay]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("set relay %d: %w", relay, ErrUnknownRelay)
	}
	if _, pulsing := c.pulses[relay]; pulsing {
		c.mu.Unlock()
		return fmt.Errorf("set relay %d: %w", relay, ErrPulseInProgress)
	}

	if err := c.g.SetLevel(pin, c.levelFor(on)); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("set relay %d: %w", relay, err)
	}
	c.states[relay] = on
	saveErr := saveStates(c.statePath, c.states)
	c.mu.Unlock()

	log.Printf("relay: %d (pin %d) set %s", relay, pin, onOff(on))
	c.notify(Event{Timestamp: time.Now(), Type: EventSet, Relay: relay, On: on})

	if saveErr != nil {
		log.Printf("relay: %d set but not persisted: %v", relay, saveErr)
		return fmt.Errorf("set relay %d: %w: %w", relay, ErrPersist, saveErr)
	}
	return nil
}

// Toggle flips the relay's logical state.
func (c *Controller) Toggle(relay int) error {
	on, err := c.State(relay)
	if err != nil {
		return err
	}
	return c.Set(relay, !on)
}

// IsPulsing reports whether the relay is currently mid-pulse.
func (c *Controller) IsPulsing(relay int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, pulsing := c.pulses[relay]
	return pulsing
}

// Pulse drives the relay on and schedules an automatic revert to off after
// the given duration. The logical state and the state file are never touched:
// a pulse is a transient override of the physical line.
//
// Returns (true, nil) when the pulse started. A pulse request for a relay
// already mid-pulse is a no-op returning (false, nil); the first pulse's
// timing is unaffected.
func (c *Controller) Pulse(relay int, duration time.Duration) (bool, error) {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return false, fmt.Errorf("pulse relay %d: %w", relay, ErrNotReady)
	}
	pin, ok := c.pins[relay]
	if !ok {
		c.mu.Unlock()
		return false, fmt.Errorf("pulse relay %d: %w", relay, ErrUnknownRelay)
	}
	if _, pulsing := c.pulses[relay]; pulsing {
		c.mu.Unlock()
		log.Printf("relay: %d already pulsing, request ignored", relay)
		return false, nil
	}

	// Claim the relay before touching hardware so concurrent Set/Pulse
	// callers observe the pulse immediately.
	c.pulses[relay] = nil

	if err := c.g.SetLevel(pin, c.levelFor(true)); err != nil {
		delete(c.pulses, relay)
		// Best effort: the line may have partially switched.
		if offErr := c.g.SetLevel(pin, c.levelFor(false)); offErr != nil {
			log.Printf("relay: %d forced off after failed pulse: %v", relay, offErr)
		}
		c.mu.Unlock()
		return false, fmt.Errorf("pulse relay %d: %w", relay, err)
	}

	c.pulses[relay] = time.AfterFunc(duration, func() {
		c.endPulse(relay, pin, true)
	})
	c.mu.Unlock()

	log.Printf("relay: %d (pin %d) pulse started, %v", relay, pin, duration)
	c.notify(Event{Timestamp: time.Now(), Type: EventPulseStart, Relay: relay, On: true, Duration: duration})
	return true, nil
}

// CancelPulse stops an in-flight pulse early and reverts the relay to off,
// running the same deregister-then-drive sequence as natural expiry. Returns
// false if the relay was not pulsing or the timer had already fired.
func (c *Controller) CancelPulse(relay int) bool {
	c.mu.Lock()
	timer, pulsing := c.pulses[relay]
	if !pulsing || timer == nil {
		c.mu.Unlock()
		return false
	}
	if !timer.Stop() {
		// Fired or firing: the expiry callback owns the revert.
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	c.endPulse(relay, c.pins[relay], false)
	return true
}

// endPulse removes the relay from the pulse registry first, then drives the
// pin off. The registry entry must never outlive the deadline, even when the
// hardware write fails.
func (c *Controller) endPulse(relay, pin int, expired bool) {
	c.mu.Lock()
	if _, pulsing := c.pulses[relay]; !pulsing {
		// Already reverted by a racing cancel.
		c.mu.Unlock()
		return
	}
	delete(c.pulses, relay)
	err := c.g.SetLevel(pin, c.levelFor(false))
	c.mu.Unlock()

	if err != nil {
		log.Printf("relay: %d pulse revert failed: %v", relay, err)
	} else if expired {
		log.Printf("relay: %d (pin %d) pulse ended", relay, pin)
	} else {
		log.Printf("relay: %d (pin %d) pulse cancelled", relay, pin)
	}
	c.notify(Event{Timestamp: time.Now(), Type: EventPulseEnd, Relay: relay})
}

// Cleanup cancels outstanding pulses, reverts their pins to off, releases the
// pins, and marks the controller not ready. Hardware teardown is the guard's
// job, performed once by the owning process after all controllers release.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		log.Printf("relay: skipping cleanup, not set up")
		return
	}

	for relay, timer := range c.pulses {
		if timer != nil {
			timer.Stop()
		}
		if err := c.g.SetLevel(c.pins[relay], c.levelFor(false)); err != nil {
			log.Printf("relay: %d off during cleanup failed: %v", relay, err)
		}
	}
	c.pulses = make(map[int]*time.Timer)

	for _, pin := range c.pins {
		c.g.ReleasePin(pin)
	}
	c.ready = false
	c.mu.Unlock()
	log.Printf("relay: cleanup complete")
}

func (c *Controller) notify(event Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(event); err != nil {
		log.Printf("relay: notify %s for relay %d: %v", event.Type, event.Relay, err)
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
