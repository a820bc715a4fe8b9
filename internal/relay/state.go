package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// createTemp is swapped out by tests to simulate write failures.
var createTemp = os.CreateTemp

// loadStates reads the persisted relay states from path. The on-disk format
// is a JSON object mapping decimal relay numbers to booleans.
//
// An absent file is not an error: the caller's defaults stand. A file that
// cannot be parsed, or whose key set does not exactly match the configured
// relays, is rejected whole — no partial merge — and defaults are returned
// alongside the error so the caller can log and continue.
func loadStates(path string, relays []int) (map[int]bool, error) {
	defaults := make(map[int]bool, len(relays))
	for _, r := range relays {
		defaults[r] = false
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("read state file: %w", err)
	}

	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return defaults, fmt.Errorf("parse state file: %w", err)
	}

	loaded := make(map[int]bool, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(k)
		if err != nil {
			return defaults, fmt.Errorf("state file key %q is not a relay number", k)
		}
		loaded[n] = v
	}

	if len(loaded) != len(defaults) {
		return defaults, fmt.Errorf("state file has %d relays, config has %d", len(loaded), len(defaults))
	}
	for _, r := range relays {
		if _, ok := loaded[r]; !ok {
			return defaults, fmt.Errorf("state file missing relay %d", r)
		}
	}

	return loaded, nil
}

// saveStates atomically replaces the state file at path with the given
// states. The full state is written to a temporary file in the same
// directory, synced to stable storage, then renamed over the target. Any
// failure leaves the previously committed file untouched and removes the
// temporary file.
func saveStates(path string, states map[int]bool) error {
	raw := make(map[string]bool, len(states))
	for r, on := range states {
		raw[strconv.Itoa(r)] = on
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := createTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
