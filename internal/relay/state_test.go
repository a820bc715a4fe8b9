package relay

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadStatesAbsentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")

	states, err := loadStates(path, []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("absent file should not error: %v", err)
	}
	if len(states) != 4 {
		t.Fatalf("got %d states, want 4", len(states))
	}
	for r, on := range states {
		if on {
			t.Errorf("relay %d: default should be false", r)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	want := map[int]bool{1: true, 2: false, 3: true, 4: false}

	if err := saveStates(path, want); err != nil {
		t.Fatalf("saveStates: %v", err)
	}
	got, err := loadStates(path, []int{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("loadStates: %v", err)
	}
	for r, on := range want {
		if got[r] != on {
			t.Errorf("relay %d: got %v, want %v", r, got[r], on)
		}
	}
}

func TestLoadStatesUnparsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	states, err := loadStates(path, []int{1, 2})
	if err == nil {
		t.Error("expected error for unparsable file")
	}
	if states[1] || states[2] {
		t.Error("defaults should be all false")
	}
}

func TestLoadStatesExtraKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	content := `{"1": true, "2": false, "3": false, "4": false, "5": true}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	states, err := loadStates(path, []int{1, 2, 3, 4})
	if err == nil {
		t.Error("expected error for extra key")
	}
	// Never a partial merge: relay 1 must stay at its default.
	if states[1] {
		t.Error("partial merge detected: relay 1 should be false")
	}
}

func TestLoadStatesMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	content := `{"1": true, "2": false, "3": false}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	states, err := loadStates(path, []int{1, 2, 3, 4})
	if err == nil {
		t.Error("expected error for missing key")
	}
	if states[1] {
		t.Error("partial merge detected: relay 1 should be false")
	}
}

func TestLoadStatesWrongKeySameCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	content := `{"1": true, "2": false, "3": false, "5": true}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadStates(path, []int{1, 2, 3, 4}); err == nil {
		t.Error("expected error: relay 5 present, relay 4 missing")
	}
}

func TestLoadStatesNonNumericKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	content := `{"one": true, "2": false}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadStates(path, []int{1, 2}); err == nil {
		t.Error("expected error for non-numeric key")
	}
}

func TestSaveStatesAtomicOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay_state.json")

	committed := map[int]bool{1: true, 2: false}
	if err := saveStates(path, committed); err != nil {
		t.Fatalf("initial save: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a failure creating the temporary file.
	orig := createTemp
	createTemp = func(dir, pattern string) (*os.File, error) {
		return nil, errors.New("disk full")
	}
	defer func() { createTemp = orig }()

	if err := saveStates(path, map[int]bool{1: false, 2: true}); err == nil {
		t.Fatal("expected save failure")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("committed state file changed despite failed save")
	}
}

func TestSaveStatesRemovesTempOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay_state.json")

	// Hand saveStates a temp file that is already closed so the write fails.
	orig := createTemp
	createTemp = func(d, pattern string) (*os.File, error) {
		f, err := os.CreateTemp(d, pattern)
		if err != nil {
			return nil, err
		}
		f.Close()
		return f, nil
	}
	defer func() { createTemp = orig }()

	if err := saveStates(path, map[int]bool{1: true}); err == nil {
		t.Fatal("expected save failure")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp file left behind: %v", entries[0].Name())
	}
}

func TestSaveStatesFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay_state.json")
	if err := saveStates(path, map[int]bool{1: true, 2: false}); err != nil {
		t.Fatalf("saveStates: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Decimal string keys, boolean values.
	want := "\"1\": true"
	if !strings.Contains(string(data), want) {
		t.Errorf("state file missing %q:\n%s", want, data)
	}
	want = "\"2\": false"
	if !strings.Contains(string(data), want) {
		t.Errorf("state file missing %q:\n%s", want, data)
	}
}
