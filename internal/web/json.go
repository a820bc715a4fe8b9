package web

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Relays        []RelayJSON `json:"relays"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time"`
	Timestamp     string      `json:"timestamp"`
	MQTT          *MQTTStatus `json:"mqtt,omitempty"`
	Config        ConfigJSON  `json:"config"`
}

// RelayJSON is the JSON representation of one relay.
type RelayJSON struct {
	Relay   int    `json:"relay"`
	Pin     int    `json:"pin"`
	State   string `json:"state"`
	Pulsing bool   `json:"pulsing"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker    string `json:"broker,omitempty"`
	HTTPAddr  string `json:"http_addr"`
	StatePath string `json:"state_path"`
}

// formatJSON returns the JSON status for the web endpoint.
func formatJSON(snap Snapshot) []byte {
	relays := make([]RelayJSON, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		state := "OFF"
		if row.On {
			state = "ON"
		}
		relays = append(relays, RelayJSON{
			Relay:   row.Relay,
			Pin:     row.Pin,
			State:   state,
			Pulsing: row.Pulsing,
		})
	}

	inner := StatusInner{
		Relays:        relays,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Config: ConfigJSON{
			Broker:    snap.Config.Broker,
			HTTPAddr:  snap.Config.HTTPAddr,
			StatePath: snap.Config.StatePath,
		},
	}
	if snap.MQTTEnabled {
		inner.MQTT = &MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker}
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}
