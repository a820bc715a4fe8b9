package mqtt

import (
	"sync"

	"github.com/sweeney/relay-control/internal/relay"
)

// FakePublisher records published events for test assertions. Safe for
// concurrent use: pulse timers notify from their own goroutines.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all relay events that were published.
	Events []relay.Event

	// Payloads contains the JSON payloads for relay events.
	Payloads [][]byte

	// SystemEvents contains all lifecycle events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for lifecycle events.
	SystemPayloads [][]byte

	// NotifyError, if set, will be returned by Notify.
	NotifyError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Notify records the relay event.
func (f *FakePublisher) Notify(event relay.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.NotifyError != nil {
		return f.NotifyError
	}

	f.Events = append(f.Events, event)

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)
	return nil
}

// PublishSystem records the lifecycle event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventTypes returns the recorded relay event types in publish order.
func (f *FakePublisher) EventTypes() []relay.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]relay.EventType, len(f.Events))
	for i, e := range f.Events {
		types[i] = e.Type
	}
	return types
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.NotifyError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
