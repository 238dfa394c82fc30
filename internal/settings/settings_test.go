package settings

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

func TestGetMissingKey(t *testing.T) {
	store := New(openTestDB(t).DB)

	value, err := store.Get("moisture_threshold")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "" {
		t.Errorf("Get() = %q, want empty string for missing key", value)
	}
}

func TestSetGetRoundtrip(t *testing.T) {
	store := New(openTestDB(t).DB)

	if err := store.Set("auto_mode", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := store.Get("auto_mode")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "true" {
		t.Errorf("Get() = %q, want %q", value, "true")
	}
}

func TestSetReplacesPriorValue(t *testing.T) {
	store := New(openTestDB(t).DB)

	if err := store.Set("moisture_threshold", "500"); err != nil {
		t.Fatal(err)
	}
	if err := store.Set("moisture_threshold", "350"); err != nil {
		t.Fatal(err)
	}

	value, err := store.Get("moisture_threshold")
	if err != nil {
		t.Fatal(err)
	}
	if value != "350" {
		t.Errorf("Get() = %q, want %q", value, "350")
	}
}
