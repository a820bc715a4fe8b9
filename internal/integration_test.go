package internal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/relay-control/internal/guard"
	"github.com/sweeney/relay-control/internal/hw"
	"github.com/sweeney/relay-control/internal/mqtt"
	"github.com/sweeney/relay-control/internal/relay"
)

// TestIntegrationFullFlow exercises the whole stack on fakes: guard init,
// controller setup from an empty state file, set/toggle with persistence,
// a short pulse with a real timer, and orderly shutdown.
func TestIntegrationFullFlow(t *testing.T) {
	dev := hw.NewFakeDevice()
	g := guard.New(dev)
	if err := g.Initialize(hw.ModeBCM, false); err != nil {
		t.Fatalf("guard init: %v", err)
	}

	path := filepath.Join(t.TempDir(), "relay_state.json")
	ctrl, err := relay.New(g, map[int]int{1: 22, 2: 23, 3: 24, 4: 25}, path, true)
	if err != nil {
		t.Fatalf("relay.New: %v", err)
	}

	publisher := mqtt.NewFakePublisher()
	ctrl.SetNotifier(publisher)

	if err := ctrl.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	// Empty state file: all relays off, all pins at the off level (high).
	for _, pin := range []int{22, 23, 24, 25} {
		if dev.PinLevel(pin) != hw.High {
			t.Errorf("pin %d: got %v, want High", pin, dev.PinLevel(pin))
		}
	}

	// Set relay 1 on: pin low, state file updated.
	if err := ctrl.Set(1, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if dev.PinLevel(22) != hw.Low {
		t.Error("pin 22 should be low (on)")
	}
	assertFileStates(t, path, map[string]bool{"1": true, "2": false, "3": false, "4": false})

	// Toggle it back off.
	if err := ctrl.Toggle(1); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	assertFileStates(t, path, map[string]bool{"1": false, "2": false, "3": false, "4": false})

	// Pulse relay 3; a Set on it during the pulse is rejected.
	started, err := ctrl.Pulse(3, 60*time.Millisecond)
	if err != nil || !started {
		t.Fatalf("Pulse: started=%v err=%v", started, err)
	}
	if err := ctrl.Set(3, true); !errors.Is(err, relay.ErrPulseInProgress) {
		t.Errorf("Set during pulse: got %v, want ErrPulseInProgress", err)
	}

	deadline := time.Now().Add(time.Second)
	for ctrl.IsPulsing(3) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.IsPulsing(3) {
		t.Fatal("pulse never ended")
	}
	if dev.PinLevel(24) != hw.High {
		t.Error("pin 24 should revert to high (off) after pulse")
	}
	// The pulse never touched persisted state.
	assertFileStates(t, path, map[string]bool{"1": false, "2": false, "3": false, "4": false})

	// Event stream: SET, SET, PULSE_START, PULSE_END.
	types := publisher.EventTypes()
	want := []relay.EventType{relay.EventSet, relay.EventSet, relay.EventPulseStart, relay.EventPulseEnd}
	if len(types) != len(want) {
		t.Fatalf("events: got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}

	// Shutdown: controller releases, guard tears down once.
	ctrl.Cleanup()
	if dev.TornDown {
		t.Error("controller cleanup must not tear down hardware")
	}
	if err := g.FinalizeAll(); err != nil {
		t.Fatalf("FinalizeAll: %v", err)
	}
	if !dev.TornDown {
		t.Error("guard finalize should tear down hardware")
	}
	if err := ctrl.Set(1, true); err == nil {
		t.Error("Set after cleanup should fail")
	}
}

// TestIntegrationRestartRestoresState simulates a daemon restart: state
// persisted by the first controller drives the pins of the second.
func TestIntegrationRestartRestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	pins := map[int]int{1: 22, 2: 23}

	dev1 := hw.NewFakeDevice()
	g1 := guard.New(dev1)
	g1.Initialize(hw.ModeBCM, false)
	ctrl1, err := relay.New(g1, pins, path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl1.Setup(); err != nil {
		t.Fatalf("first Setup: %v", err)
	}
	if err := ctrl1.Set(2, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ctrl1.Cleanup()
	g1.FinalizeAll()

	// New process: fresh device, fresh guard, same state file.
	dev2 := hw.NewFakeDevice()
	g2 := guard.New(dev2)
	g2.Initialize(hw.ModeBCM, false)
	ctrl2, err := relay.New(g2, pins, path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl2.Setup(); err != nil {
		t.Fatalf("second Setup: %v", err)
	}

	if on, _ := ctrl2.State(2); !on {
		t.Error("relay 2 should be restored to on")
	}
	if dev2.PinLevel(23) != hw.Low {
		t.Error("pin 23 should be driven low (on) at setup")
	}
	if dev2.PinLevel(22) != hw.High {
		t.Error("pin 22 should be driven high (off) at setup")
	}
}

// TestIntegrationConcurrentPulses runs pulses on every relay at once against
// foreground toggles on a disjoint relay set.
func TestIntegrationConcurrentPulses(t *testing.T) {
	dev := hw.NewFakeDevice()
	g := guard.New(dev)
	g.Initialize(hw.ModeBCM, false)

	path := filepath.Join(t.TempDir(), "relay_state.json")
	pins := map[int]int{1: 22, 2: 23, 3: 24, 4: 25}
	ctrl, err := relay.New(g, pins, path, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctrl.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	for _, r := range []int{1, 2} {
		started, err := ctrl.Pulse(r, 50*time.Millisecond)
		if err != nil || !started {
			t.Fatalf("Pulse %d: started=%v err=%v", r, started, err)
		}
	}

	// Relays 3 and 4 stay fully available while 1 and 2 pulse.
	for i := 0; i < 10; i++ {
		if err := ctrl.Toggle(3); err != nil {
			t.Fatalf("Toggle 3: %v", err)
		}
		if err := ctrl.Toggle(4); err != nil {
			t.Fatalf("Toggle 4: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for (ctrl.IsPulsing(1) || ctrl.IsPulsing(2)) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ctrl.IsPulsing(1) || ctrl.IsPulsing(2) {
		t.Fatal("pulses never ended")
	}
	if dev.PinLevel(22) != hw.High || dev.PinLevel(23) != hw.High {
		t.Error("pulsed pins should revert to off")
	}
}

func assertFileStates(t *testing.T, path string, want map[string]bool) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	var got map[string]bool
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("parse state file: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("state file keys: got %d, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("state file %q: got %v, want %v", k, got[k], v)
		}
	}
}
