package history

import (
	"path/filepath"
	"testing"

	"github.com/soilbridge/pumpd/internal/db"
	"github.com/soilbridge/pumpd/internal/pump"
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

func floatPtr(f float64) *float64 { return &f }

func TestInsertAndRecent(t *testing.T) {
	log := New(openTestDB(t).DB)

	first := pump.Reading{
		Timestamp:    "2026-08-30 10:00:00",
		SoilMoisture: floatPtr(412.5),
		Temperature:  floatPtr(21.0),
		PumpStatus:   pump.ActionOn,
		Source:       "device-1",
	}
	second := pump.Reading{
		Timestamp:  "2026-08-30 10:00:05",
		PumpStatus: pump.ActionOff,
		Source:     "api",
	}

	if err := log.Insert(first); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := log.Insert(second); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	readings, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("Recent() returned %d readings, want 2", len(readings))
	}

	// Newest first.
	if readings[0].Timestamp != second.Timestamp {
		t.Errorf("first returned reading = %q, want newest %q", readings[0].Timestamp, second.Timestamp)
	}
	if readings[0].SoilMoisture != nil {
		t.Errorf("absent soil moisture should round-trip as nil, got %v", *readings[0].SoilMoisture)
	}
	if readings[1].SoilMoisture == nil || *readings[1].SoilMoisture != 412.5 {
		t.Errorf("soil moisture = %v, want 412.5", readings[1].SoilMoisture)
	}
	if readings[1].PumpStatus != pump.ActionOn {
		t.Errorf("pump status = %q, want ON", readings[1].PumpStatus)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	log := New(openTestDB(t).DB)

	for i := 0; i < 5; i++ {
		if err := log.Insert(pump.Reading{Timestamp: "2026-08-30 10:00:00", PumpStatus: pump.ActionOff, Source: "api"}); err != nil {
			t.Fatal(err)
		}
	}

	readings, err := log.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(readings) != 3 {
		t.Errorf("Recent(3) returned %d readings, want 3", len(readings))
	}
}
