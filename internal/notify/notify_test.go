package notify

import (
	"path/filepath"
	"testing"

	"github.com/soilbridge/pumpd/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestAppendAndRecent(t *testing.T) {
	log := New(openTestDB(t).DB)

	if err := log.Append("Pump turned ON (device-1)", "info", "2026-08-30 10:00:00"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := log.Append("Pump manually forced OFF", "warning", ""); err != nil {
		t.Fatalf("Append() with empty timestamp error = %v", err)
	}

	entries, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	if entries[0].Message != "Pump manually forced OFF" || entries[0].Level != "warning" {
		t.Errorf("newest entry = %+v, want the warning", entries[0])
	}
	if entries[0].Timestamp == "" {
		t.Error("empty submitted timestamp should have been filled in")
	}
	if entries[0].Acked || entries[1].Acked {
		t.Error("new notifications must start unacked")
	}
}

func TestAck(t *testing.T) {
	log := New(openTestDB(t).DB)

	if err := log.Append("Pump turned OFF (api)", "info", ""); err != nil {
		t.Fatal(err)
	}
	entries, err := log.Recent(1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Recent() = %v entries, err %v", len(entries), err)
	}

	ok, err := log.Ack(entries[0].ID)
	if err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if !ok {
		t.Error("Ack() = false, want true for existing id")
	}

	entries, _ = log.Recent(1)
	if !entries[0].Acked {
		t.Error("entry should be acked")
	}

	ok, err = log.Ack(9999)
	if err != nil {
		t.Fatalf("Ack(missing) error = %v", err)
	}
	if ok {
		t.Error("Ack() = true for missing id, want false")
	}
}
