// Package web provides a read-only HTTP status page for the relay-control
// daemon. It reads state exclusively through the controller's public surface
// and exposes no mutating endpoints.
package web

import (
	"context"
	"net"
	"net/http"
	"sort"
	"time"
)

// StatusSource is the controller surface the status page consumes.
// *relay.Controller satisfies it.
type StatusSource interface {
	AllStates() map[int]bool
	IsPulsing(relay int) bool
	Pin(relay int) (int, bool)
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Config contains daemon configuration for display.
type Config struct {
	Broker    string
	HTTPAddr  string
	StatePath string
}

// Row is one relay's line in the status table.
type Row struct {
	Relay   int
	Pin     int
	On      bool
	Pulsing bool
}

// Snapshot is a point-in-time view of daemon state, built per request.
type Snapshot struct {
	Rows          []Row
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTEnabled   bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	source     StatusSource
	mqtt       ConnectionStatus
	startTime  time.Time
	config     Config
}

// New creates a Server that reads state from the given source.
// mqttStatus may be nil when MQTT is disabled.
func New(addr string, source StatusSource, mqttStatus ConnectionStatus, startTime time.Time, cfg Config) *Server {
	s := &Server{
		source:    source,
		mqtt:      mqttStatus,
		startTime: startTime,
		config:    cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) snapshot() Snapshot {
	states := s.source.AllStates()

	relays := make([]int, 0, len(states))
	for r := range states {
		relays = append(relays, r)
	}
	sort.Ints(relays)

	rows := make([]Row, 0, len(relays))
	for _, r := range relays {
		pin, _ := s.source.Pin(r)
		rows = append(rows, Row{
			Relay:   r,
			Pin:     pin,
			On:      states[r],
			Pulsing: s.source.IsPulsing(r),
		})
	}

	snap := Snapshot{
		Rows:        rows,
		StartTime:   s.startTime,
		Now:         time.Now(),
		MQTTEnabled: s.mqtt != nil,
		Config:      s.config,
	}
	if s.mqtt != nil {
		snap.MQTTConnected = s.mqtt.IsConnected()
	}
	return snap
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(formatJSON(s.snapshot()))
}
