// Package pump implements the pump-decision state machine: it reconciles live
// telemetry, the persisted threshold and auto-mode settings, and a time-bounded
// manual override into a single authoritative pump action.
package pump

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Action is the pump action in effect.
type Action string

const (
	ActionOn  Action = "ON"
	ActionOff Action = "OFF"
)

// Snapshot is the single in-memory record of the most recent telemetry
// and derived status. Nil float fields mean the sensor is not reporting.
type Snapshot struct {
	Timestamp            string   `json:"timestamp"`
	SoilMoisture         *float64 `json:"soil_moisture"`
	Temperature          *float64 `json:"temperature"`
	Humidity             *float64 `json:"humidity"`
	PumpStatus           Action   `json:"pump_status"`
	Source               string   `json:"source"`
	ManualOverrideActive bool     `json:"manual_override_active"`
	AutoMode             bool     `json:"auto_mode"`
	Threshold            float64  `json:"threshold"`
}

// Payload is an incoming telemetry submission. Numeric fields are `any`
// because devices send them as numbers, quoted strings, or not at all;
// coercion is tolerant by design and never rejects a reading.
type Payload struct {
	Timestamp    string `json:"timestamp"`
	SoilMoisture any    `json:"soil_moisture"`
	Temperature  any    `json:"temperature"`
	Humidity     any    `json:"humidity"`
	Source       string `json:"source"`
}

// Reading is a fully-derived telemetry record appended to the historical log.
type Reading struct {
	Timestamp    string   `json:"timestamp"`
	SoilMoisture *float64 `json:"soil_moisture"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	PumpStatus   Action   `json:"pump_status"`
	Source       string   `json:"source"`
}

// Decision is the outcome of one resolution pass.
type Decision struct {
	Action               Action  `json:"action"`
	Threshold            float64 `json:"threshold"`
	AutoMode             bool    `json:"auto_mode"`
	ManualOverrideActive bool    `json:"manual_override_active"`
}

// IngestResult is returned to the caller after a telemetry submission.
type IngestResult struct {
	Timestamp            string  `json:"timestamp"`
	DesiredAction        Action  `json:"desired_action"`
	Threshold            float64 `json:"threshold"`
	AutoMode             bool    `json:"auto_mode"`
	ManualOverrideActive bool    `json:"manual_override_active"`
}

// Settings is the persisted key-value configuration collaborator.
// Get returns "" for a missing key; callers substitute their own defaults
// and must treat errors as "use default", never propagate them.
type Settings interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// History is the append-only historical sensor log collaborator.
type History interface {
	Insert(r Reading) error
}

// UsageLog is the water-usage ledger collaborator.
type UsageLog interface {
	Log(timestamp string, liters float64) error
}

// Notifier is the human-readable event log collaborator. An empty timestamp
// means "now".
type Notifier interface {
	Log(message, level, timestamp string) error
}

// coerceFloat turns a loosely-typed telemetry value into a float pointer.
// nil, empty strings and unparsable values coerce to absent rather than error.
func coerceFloat(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case float32:
		f := float64(t)
		return &f
	case int:
		f := float64(t)
		return &f
	case int64:
		f := float64(t)
		return &f
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

// coerceSeconds parses a loosely-typed duration value, falling back to def.
func coerceSeconds(v any, def int) int {
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		return int(t)
	case int:
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}
