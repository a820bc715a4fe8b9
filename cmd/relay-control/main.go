// Command relay-control drives a bank of relays from a terminal, with
// persisted state, optional MQTT event publishing, and an HTTP status page.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sweeney/relay-control/internal/guard"
	"github.com/sweeney/relay-control/internal/hw"
	"github.com/sweeney/relay-control/internal/mqtt"
	"github.com/sweeney/relay-control/internal/relay"
	"github.com/sweeney/relay-control/internal/web"
)

// defaultPins is the stock 4-channel relay HAT wiring.
const defaultPins = "1:22,2:23,3:24,4:25"

func main() {
	pins := flag.String("pins", defaultPins, "Relay to BCM pin mapping (relay:pin,...)")
	statePath := flag.String("state", "relay_state.json", "State file path")
	broker := flag.String("broker", "", "MQTT broker address (empty to disable)")
	httpAddr := flag.String("http", ":8080", "HTTP status address (empty to disable)")
	chipName := flag.String("chip", "gpiochip0", "GPIO character device name")
	boardMode := flag.Bool("board", false, "Number pins by physical header position instead of BCM")
	activeLow := flag.Bool("active-low", true, "Relay board is active-low (ON drives the pin LOW)")
	printState := flag.Bool("print-state", false, "Print persisted relay states and exit")

	flag.Parse()

	if err := run(*pins, *statePath, *broker, *httpAddr, *chipName, *boardMode, *activeLow, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(pinSpec, statePath, broker, httpAddr, chipName string, boardMode, activeLow, printState bool) error {
	pins, err := parsePins(pinSpec)
	if err != nil {
		return fmt.Errorf("parse -pins: %w", err)
	}

	mode := hw.ModeBCM
	if boardMode {
		mode = hw.ModeBoard
	}

	g := guard.New(hw.NewRealDevice(chipName))
	if err := g.Initialize(mode, false); err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer func() {
		if err := g.FinalizeAll(); err != nil {
			log.Printf("gpio finalize: %v", err)
		}
	}()

	ctrl, err := relay.New(g, pins, statePath, activeLow)
	if err != nil {
		return err
	}

	var publisher *mqtt.RealPublisher
	if broker != "" {
		publisher = mqtt.NewRealPublisher(broker)
		defer publisher.Close()
		ctrl.SetNotifier(publisher)
	}

	if err := ctrl.Setup(); err != nil {
		return fmt.Errorf("controller setup: %w (running on a Pi with gpio permissions?)", err)
	}
	defer ctrl.Cleanup()

	if printState {
		printStates(os.Stdout, ctrl)
		return nil
	}

	if publisher != nil {
		event := mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish startup event: %v", err)
		}
	}

	if httpAddr != "" {
		var connStatus web.ConnectionStatus
		if publisher != nil {
			connStatus = publisher
		}
		srv := web.New(httpAddr, ctrl, connStatus, time.Now(), web.Config{
			Broker:    broker,
			HTTPAddr:  httpAddr,
			StatePath: statePath,
		})
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", httpAddr)
	}

	log.Printf("started: relays=%v state=%s broker=%s", pinSpec, statePath, broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	fmt.Println("commands: on N | off N | toggle N | pulse N <duration> | cancel N | status | quit")
	reason := commandLoop(ctrl, lines, sigCh, os.Stdout)

	if publisher != nil {
		event := mqtt.SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: reason, Retained: true}
		if err := publisher.PublishSystem(event); err != nil {
			log.Printf("failed to publish shutdown event: %v", err)
		}
	}
	return nil
}

// readLines feeds stdin lines into the channel and closes it on EOF.
func readLines(r io.Reader, lines chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
	close(lines)
}

// commandLoop processes commands and signals until quit, EOF, or a signal.
// Returns the shutdown reason for the lifecycle event.
func commandLoop(ctrl *relay.Controller, lines <-chan string, sig <-chan os.Signal, out io.Writer) string {
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			if s == syscall.SIGTERM {
				return "SIGTERM"
			}
			return "SIGINT"

		case line, ok := <-lines:
			if !ok {
				log.Printf("stdin closed, shutting down")
				return "EOF"
			}
			if quit := handleCommand(ctrl, line, out); quit {
				return "QUIT"
			}
		}
	}
}

// handleCommand executes a single command line. Returns true on quit.
func handleCommand(ctrl *relay.Controller, line string, out io.Writer) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "q", "exit":
		return true

	case "status", "s":
		printStates(out, ctrl)

	case "on", "off":
		n, err := commandRelay(fields, 2)
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		if err := ctrl.Set(n, fields[0] == "on"); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case "toggle", "t":
		n, err := commandRelay(fields, 2)
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		if err := ctrl.Toggle(n); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case "pulse", "p":
		n, err := commandRelay(fields, 3)
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		d, err := time.ParseDuration(fields[2])
		if err != nil {
			fmt.Fprintf(out, "bad duration %q: %v\n", fields[2], err)
			return false
		}
		started, err := ctrl.Pulse(n, d)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else if !started {
			fmt.Fprintf(out, "relay %d already pulsing\n", n)
		}

	case "cancel", "c":
		n, err := commandRelay(fields, 2)
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		if !ctrl.CancelPulse(n) {
			fmt.Fprintf(out, "relay %d not pulsing\n", n)
		}

	default:
		fmt.Fprintf(out, "unknown command %q\n", fields[0])
	}
	return false
}

// commandRelay extracts the relay number from a command expecting argc fields.
func commandRelay(fields []string, argc int) (int, error) {
	if len(fields) < argc {
		return 0, fmt.Errorf("usage: %s N%s", fields[0], pulseUsage(fields[0]))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("bad relay number %q", fields[1])
	}
	return n, nil
}

func pulseUsage(cmd string) string {
	if cmd == "pulse" || cmd == "p" {
		return " <duration>"
	}
	return ""
}

func printStates(out io.Writer, ctrl *relay.Controller) {
	states := ctrl.AllStates()
	relays := make([]int, 0, len(states))
	for r := range states {
		relays = append(relays, r)
	}
	sort.Ints(relays)

	for _, r := range relays {
		pin, _ := ctrl.Pin(r)
		state := "OFF"
		if states[r] {
			state = "ON"
		}
		if ctrl.IsPulsing(r) {
			state = "PULSING"
		}
		fmt.Fprintf(out, "relay %d (pin %d): %s\n", r, pin, state)
	}
}

// parsePins parses a "relay:pin,relay:pin" mapping.
func parsePins(spec string) (map[int]int, error) {
	pins := make(map[int]int)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		relayStr, pinStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("bad mapping %q, want relay:pin", part)
		}
		r, err := strconv.Atoi(strings.TrimSpace(relayStr))
		if err != nil {
			return nil, fmt.Errorf("bad relay number %q", relayStr)
		}
		p, err := strconv.Atoi(strings.TrimSpace(pinStr))
		if err != nil {
			return nil, fmt.Errorf("bad pin number %q", pinStr)
		}
		if _, dup := pins[r]; dup {
			return nil, fmt.Errorf("relay %d mapped twice", r)
		}
		pins[r] = p
	}
	if len(pins) == 0 {
		return nil, fmt.Errorf("no relays configured")
	}
	return pins, nil
}
