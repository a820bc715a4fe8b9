// Package mqtt publishes relay events to an MQTT broker, with abstraction
// for testing. Publishing is observational only: there is no inbound control
// topic, so the broker can never drive a relay.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/relay-control/internal/relay"
)

// Topic is the MQTT topic for relay state events.
const Topic = "home/relays/events"

// TopicSystem is the MQTT topic for daemon lifecycle events.
const TopicSystem = "home/relays/system"

// Publisher publishes events to MQTT. Notify satisfies relay.Notifier, so a
// Publisher can be installed directly on the controller.
type Publisher interface {
	// Notify sends a relay event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Notify(event relay.Event) error

	// PublishSystem sends a daemon lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a daemon lifecycle event.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // e.g., "STARTUP", "SHUTDOWN"
	Reason    string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	Retained  bool   // Whether the message should be retained by the broker
}

// Payload is the MQTT message envelope for relay events.
type Payload struct {
	Relay RelayPayload `json:"relay"`
}

// RelayPayload contains the relay event details.
type RelayPayload struct {
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Number     int    `json:"number"`
	State      string `json:"state"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// FormatPayload creates the JSON payload for a relay event.
func FormatPayload(event relay.Event) ([]byte, error) {
	state := "OFF"
	if event.On {
		state = "ON"
	}
	payload := Payload{
		Relay: RelayPayload{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			Event:      string(event.Type),
			Number:     event.Relay,
			State:      state,
			DurationMs: event.Duration.Milliseconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message envelope for lifecycle events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the lifecycle event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a lifecycle event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
