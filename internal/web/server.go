// Package web exposes the pump bridge over HTTP to the field device and
// operator tooling.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soilbridge/pumpd/internal/history"
	"github.com/soilbridge/pumpd/internal/ledger"
	"github.com/soilbridge/pumpd/internal/notify"
	"github.com/soilbridge/pumpd/internal/pump"
	"github.com/soilbridge/pumpd/internal/settings"
)

// Server is the HTTP API server.
type Server struct {
	addr       string
	bridge     *pump.Bridge
	settings   *settings.Store
	history    *history.Log
	usage      *ledger.Ledger
	notices    *notify.Log
	handler    http.Handler
	httpServer *http.Server
}

// NewServer creates a new API server.
func NewServer(host string, port int, bridge *pump.Bridge, st *settings.Store, hist *history.Log, usage *ledger.Ledger, notices *notify.Log) *Server {
	s := &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		bridge:   bridge,
		settings: st,
		history:  hist,
		usage:    usage,
		notices:  notices,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/hardware/read", s.handleRead)
	mux.HandleFunc("/api/hardware/sync", s.handleSync)
	mux.HandleFunc("/api/hardware/status", s.handleStatus)
	mux.HandleFunc("/api/hardware/command", s.handleCommand)
	mux.HandleFunc("/api/hardware/pump", s.handlePump)
	mux.HandleFunc("/api/sensors/latest", s.handleStatus)
	mux.HandleFunc("/api/data/recent", s.handleRecentData)
	mux.HandleFunc("/api/water/usage", s.handleWaterUsage)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/ack", s.handleNotificationAck)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/health", s.handleHealth)
	s.handler = mux

	return s
}

// Handler returns the route handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.handler,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// decodePayload reads a telemetry payload, tolerating a missing or malformed
// body: the device contract is "never reject telemetry", so a bad body is
// simply an empty payload.
func decodePayload(r *http.Request) pump.Payload {
	var p pump.Payload
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return pump.Payload{}
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := decodePayload(r)
	source := p.Source
	if source == "" {
		source = "api"
	}
	result := s.bridge.Ingest(p, source)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "received",
		"timestamp":              result.Timestamp,
		"desired_action":         result.DesiredAction,
		"threshold":              result.Threshold,
		"auto_mode":              result.AutoMode,
		"manual_override_active": result.ManualOverrideActive,
	})
}

// handleSync is the primary device handshake: the device posts sensor values
// and receives the desired pump action plus configuration in a single call.
// The device must treat next_action as an imperative command.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p := decodePayload(r)
	source := p.Source
	if source == "" {
		source = "nodemcu"
	}
	result := s.bridge.Ingest(p, source)
	pollInterval := s.bridge.RefreshPollInterval()

	writeJSON(w, http.StatusOK, map[string]any{
		"next_action":            result.DesiredAction,
		"threshold":              result.Threshold,
		"auto_mode":              result.AutoMode,
		"manual_override_active": result.ManualOverrideActive,
		"timestamp":              result.Timestamp,
		"poll_interval_ms":       pollInterval,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.State().Snapshot())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Command())
}

func (s *Server) handlePump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Action      string `json:"action"`
		HoldSeconds any    `json:"hold_seconds"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
		return
	}

	action, hold, err := s.bridge.Force(req.Action, req.HoldSeconds)
	if err != nil {
		if errors.Is(err, pump.ErrInvalidAction) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid action"})
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                  "pump updated",
		"pump_status":             action,
		"manual_override_seconds": hold,
	})
}

func (s *Server) handleRecentData(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	readings, err := s.history.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query sensor history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []pump.Reading{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (s *Server) handleWaterUsage(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24, 24*30)
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format("2006-01-02 15:04:05")
	entries, total, err := s.usage.Since(since)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query water usage")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hours":        hours,
		"entries":      entries,
		"total_liters": total,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	entries, err := s.notices.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query notifications")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []notify.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": entries})
}

func (s *Server) handleNotificationAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}
	ok, err := s.notices.Ack(req.ID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to ack notification")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

// handleMode reads or updates the persisted automatic-mode settings. These
// are the same keys the decision engine consults on every resolution.
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.currentMode())
	case http.MethodPost:
		var req struct {
			AutoMode          *bool `json:"auto_mode"`
			MoistureThreshold any   `json:"moisture_threshold"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if req.AutoMode != nil {
			value := "false"
			if *req.AutoMode {
				value = "true"
			}
			if err := s.settings.Set(pump.KeyAutoMode, value); err != nil {
				log.Error().Err(err).Msg("Failed to update auto mode")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		if req.MoistureThreshold != nil {
			threshold, ok := parseThreshold(req.MoistureThreshold)
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid threshold"})
				return
			}
			if err := s.settings.Set(pump.KeyThreshold, strconv.FormatFloat(threshold, 'f', -1, 64)); err != nil {
				log.Error().Err(err).Msg("Failed to update threshold")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, s.currentMode())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) currentMode() map[string]any {
	autoMode := false
	if v, err := s.settings.Get(pump.KeyAutoMode); err == nil {
		autoMode = v == "true"
	}
	threshold := pump.DefaultThreshold
	if v, err := s.settings.Get(pump.KeyThreshold); err == nil && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			threshold = f
		}
	}
	return map[string]any{
		"auto_mode":          autoMode,
		"moisture_threshold": threshold,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func parseThreshold(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if f <= 0 {
		return 0, false
	}
	return f, true
}

func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
