package txn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buildservice-client/osc/build"
	"github.com/buildservice-client/osc/wcstate"
)

func TestSaveLoadUpdateRecord(t *testing.T) {
	dir := build.TempDir("txn", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "state")

	r := NewUpdate("42")
	r.Added = []string{"new.c"}
	r.Modified = []string{"changed.c"}
	r.MarkProcessed("new.c")
	r.SetEntryState("new.c", wcstate.Normal)

	if err := r.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Kind != wcstate.TxnUpdate {
		t.Fatalf("Kind = %v", loaded.Kind)
	}
	if loaded.UpdatePhase != wcstate.UpdatePrepare {
		t.Fatalf("UpdatePhase = %v", loaded.UpdatePhase)
	}
	if loaded.Revision != "42" {
		t.Fatalf("Revision = %q", loaded.Revision)
	}
	if !loaded.IsProcessed("new.c") {
		t.Fatal("expected new.c to be processed after reload")
	}
	if loaded.IsProcessed("changed.c") {
		t.Fatal("changed.c should not be processed")
	}
	if loaded.EntryStates["new.c"] != wcstate.Normal {
		t.Fatalf("EntryStates[new.c] = %v", loaded.EntryStates["new.c"])
	}
}

func TestPhaseAdvanceSurvivesRoundTrip(t *testing.T) {
	dir := build.TempDir("txn", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "state")

	r := NewCommit("abc123")
	if err := r.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	loaded.CommitPhase = wcstate.CommitCommitting
	if err := loaded.Save(path); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.CommitPhase != wcstate.CommitCommitting {
		t.Fatalf("CommitPhase = %v, want CommitCommitting", reloaded.CommitPhase)
	}
}

func TestLoadRejectsCorruptedChecksum(t *testing.T) {
	dir := build.TempDir("txn", t.Name())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "state")

	r := NewUpdate("1")
	r.Added = []string{"a.c"}
	if err := r.Save(path); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := []byte(strings.Replace(string(raw), `"a.c"`, `"b.c"`, 1))
	if string(tampered) == string(raw) {
		t.Fatal("tamper step had no effect, test is broken")
	}
	if err := os.WriteFile(path, tampered, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected a checksum mismatch error after tampering")
	}
}
