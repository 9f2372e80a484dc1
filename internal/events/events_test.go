package events

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestLogAndRecent(t *testing.T) {
	db := openTestDB(t)

	if err := db.Log("run-1", "run_started", "", "fingerprint=abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.Log("run-1", "module_started", "module1_admet", "todo=5"); err != nil {
		t.Fatal(err)
	}
	if err := db.Log("run-1", "module_succeeded", "module1_admet", "processed=5 succeeded=5 failed=0"); err != nil {
		t.Fatal(err)
	}

	events, err := db.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	// Newest first.
	if events[0].Event != "module_succeeded" || events[2].Event != "run_started" {
		t.Errorf("order wrong: %v, %v", events[0].Event, events[2].Event)
	}
	if events[1].Module != "module1_admet" || events[1].Detail != "todo=5" {
		t.Errorf("event = %+v", events[1])
	}

	limited, err := db.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited events = %d, want 1", len(limited))
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Log("run-1", "run_started", "", ""); err != nil {
		t.Fatal(err)
	}
	db.Close()

	// Reopening must not re-apply the schema or lose rows.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	events, err := db.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("events after reopen = %d, want 1", len(events))
	}
}
