package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/soilbridge/pumpd/internal/db"
	"github.com/soilbridge/pumpd/internal/history"
	"github.com/soilbridge/pumpd/internal/ledger"
	"github.com/soilbridge/pumpd/internal/notify"
	"github.com/soilbridge/pumpd/internal/pump"
	"github.com/soilbridge/pumpd/internal/settings"
)

type testServer struct {
	ts       *httptest.Server
	settings *settings.Store
	notices  *notify.Log
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	st := settings.New(database.DB)
	hist := history.New(database.DB)
	usage := ledger.New(database.DB)
	notices := notify.New(database.DB)

	state := pump.NewState()
	bridge := pump.NewBridge(state, st, hist, usage, notices)

	server := NewServer("127.0.0.1", 0, bridge, st, hist, usage, notices)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, settings: st, notices: notices}
}

func (s *testServer) postJSON(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(s.ts.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("POST %s: bad JSON response: %v", path, err)
	}
	return resp.StatusCode, decoded
}

func (s *testServer) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(s.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("GET %s: bad JSON response: %v", path, err)
	}
	return resp.StatusCode, decoded
}

func (s *testServer) enableAutoMode(t *testing.T, threshold string) {
	t.Helper()
	if err := s.settings.Set(pump.KeyAutoMode, "true"); err != nil {
		t.Fatal(err)
	}
	if err := s.settings.Set(pump.KeyThreshold, threshold); err != nil {
		t.Fatal(err)
	}
}

func TestSyncHandshake(t *testing.T) {
	s := newTestServer(t)
	s.enableAutoMode(t, "500")

	status, body := s.postJSON(t, "/api/hardware/sync", `{"soil_moisture": 300}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["next_action"] != "ON" {
		t.Errorf("next_action = %v, want ON", body["next_action"])
	}
	if body["threshold"] != 500.0 {
		t.Errorf("threshold = %v, want 500", body["threshold"])
	}
	if body["auto_mode"] != true {
		t.Errorf("auto_mode = %v, want true", body["auto_mode"])
	}
	if body["manual_override_active"] != false {
		t.Errorf("manual_override_active = %v, want false", body["manual_override_active"])
	}
	if body["poll_interval_ms"] != float64(pump.DefaultPollIntervalMs) {
		t.Errorf("poll_interval_ms = %v, want %d", body["poll_interval_ms"], pump.DefaultPollIntervalMs)
	}
	if body["timestamp"] == "" {
		t.Error("timestamp should be filled in")
	}

	// A wetter reading flips to OFF and records exactly one transition.
	_, body = s.postJSON(t, "/api/hardware/sync", `{"soil_moisture": 600}`)
	if body["next_action"] != "OFF" {
		t.Errorf("next_action = %v, want OFF", body["next_action"])
	}

	entries, err := s.notices.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	var offCount int
	for _, e := range entries {
		if strings.HasPrefix(e.Message, "Pump turned OFF") {
			offCount++
		}
	}
	if offCount != 1 {
		t.Errorf("pump-off notifications = %d, want exactly 1", offCount)
	}
}

func TestSyncClampsConfiguredPollInterval(t *testing.T) {
	s := newTestServer(t)
	if err := s.settings.Set(pump.KeyPollIntervalMs, "500"); err != nil {
		t.Fatal(err)
	}

	_, body := s.postJSON(t, "/api/hardware/sync", `{}`)
	if body["poll_interval_ms"] != float64(pump.MinPollIntervalMs) {
		t.Errorf("poll_interval_ms = %v, want clamp %d", body["poll_interval_ms"], pump.MinPollIntervalMs)
	}
}

func TestReadEndpoint(t *testing.T) {
	s := newTestServer(t)

	status, body := s.postJSON(t, "/api/hardware/read", `{"soil_moisture": "700", "source": "tester"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "received" {
		t.Errorf("status field = %v, want received", body["status"])
	}
	if body["desired_action"] != "OFF" {
		t.Errorf("desired_action = %v, want OFF", body["desired_action"])
	}

	_, snap := s.getJSON(t, "/api/hardware/status")
	if snap["source"] != "tester" {
		t.Errorf("snapshot source = %v, want tester", snap["source"])
	}
	if snap["soil_moisture"] != 700.0 {
		t.Errorf("snapshot soil_moisture = %v, want 700", snap["soil_moisture"])
	}
}

func TestReadToleratesMalformedBody(t *testing.T) {
	s := newTestServer(t)

	status, body := s.postJSON(t, "/api/hardware/read", `{not json`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 (telemetry is never rejected)", status)
	}
	if body["desired_action"] != "OFF" {
		t.Errorf("desired_action = %v, want OFF", body["desired_action"])
	}
}

func TestCommandPeek(t *testing.T) {
	s := newTestServer(t)
	s.enableAutoMode(t, "500")

	s.postJSON(t, "/api/hardware/read", `{"soil_moisture": 300}`)

	_, body := s.getJSON(t, "/api/hardware/command")
	if body["action"] != "ON" {
		t.Errorf("action = %v, want ON from cached soil value", body["action"])
	}
}

func TestPumpOverride(t *testing.T) {
	s := newTestServer(t)

	status, body := s.postJSON(t, "/api/hardware/pump", `{"action": "on", "hold_seconds": 5}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "pump updated" {
		t.Errorf("status field = %v, want 'pump updated'", body["status"])
	}
	if body["pump_status"] != "ON" {
		t.Errorf("pump_status = %v, want ON", body["pump_status"])
	}
	if body["manual_override_seconds"] != float64(pump.OverrideMinSeconds) {
		t.Errorf("manual_override_seconds = %v, want clamp %d", body["manual_override_seconds"], pump.OverrideMinSeconds)
	}

	_, snap := s.getJSON(t, "/api/hardware/status")
	if snap["manual_override_active"] != true {
		t.Errorf("manual_override_active = %v, want true", snap["manual_override_active"])
	}
}

func TestPumpInvalidAction(t *testing.T) {
	s := newTestServer(t)

	status, body := s.postJSON(t, "/api/hardware/pump", `{"action": "explode"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if body["error"] != "Invalid action" {
		t.Errorf("error = %v, want 'Invalid action'", body["error"])
	}

	_, snap := s.getJSON(t, "/api/hardware/status")
	if snap["manual_override_active"] != false {
		t.Error("rejected command must leave the override window unchanged")
	}
}

func TestModeEndpoint(t *testing.T) {
	s := newTestServer(t)

	_, body := s.getJSON(t, "/api/mode")
	if body["auto_mode"] != false || body["moisture_threshold"] != 500.0 {
		t.Errorf("defaults = %v, want auto_mode false, threshold 500", body)
	}

	status, body := s.postJSON(t, "/api/mode", `{"auto_mode": true, "moisture_threshold": 420}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["auto_mode"] != true || body["moisture_threshold"] != 420.0 {
		t.Errorf("updated mode = %v, want auto_mode true, threshold 420", body)
	}

	status, _ = s.postJSON(t, "/api/mode", `{"moisture_threshold": -5}`)
	if status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for non-positive threshold", status)
	}
}

func TestRecentDataAndWaterUsage(t *testing.T) {
	s := newTestServer(t)
	s.enableAutoMode(t, "500")

	s.postJSON(t, "/api/hardware/read", `{"soil_moisture": 300}`)
	s.postJSON(t, "/api/hardware/read", `{"soil_moisture": 310}`)

	_, body := s.getJSON(t, "/api/data/recent?limit=10")
	readings, ok := body["readings"].([]any)
	if !ok || len(readings) != 2 {
		t.Errorf("readings = %v, want 2 entries", body["readings"])
	}

	// One OFF->ON transition was recorded above.
	_, body = s.getJSON(t, "/api/water/usage")
	if body["total_liters"] != 2.0 {
		t.Errorf("total_liters = %v, want 2.0", body["total_liters"])
	}
}

func TestNotificationAck(t *testing.T) {
	s := newTestServer(t)

	s.postJSON(t, "/api/hardware/pump", `{"action": "OFF"}`)

	_, body := s.getJSON(t, "/api/notifications")
	entries, ok := body["notifications"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("notifications = %v, want 1 entry", body["notifications"])
	}
	entry := entries[0].(map[string]any)
	id := int(entry["id"].(float64))

	status, body := s.postJSON(t, "/api/notifications/ack", `{"id": `+strconv.Itoa(id)+`}`)
	if status != http.StatusOK || body["status"] != "acked" {
		t.Errorf("ack response = %d %v, want 200 acked", status, body)
	}

	status, _ = s.postJSON(t, "/api/notifications/ack", `{"id": 9999}`)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for missing id", status)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, body := s.getJSON(t, "/health")
	if status != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v, want 200 healthy", status, body)
	}
}
