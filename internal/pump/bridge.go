package pump

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Settings keys owned by the external settings store.
const (
	KeyThreshold      = "moisture_threshold"
	KeyAutoMode       = "auto_mode"
	KeyPollIntervalMs = "hardware_poll_interval_ms"
	KeyLastPumpStatus = "last_pump_status"
)

// Manual override bounds, in seconds.
const (
	OverrideDefaultSeconds = 120
	OverrideMinSeconds     = 15
	OverrideMaxSeconds     = 900
)

// LitersPerCycle is the fixed volume charged to the usage ledger per pump-on
// transition.
const LitersPerCycle = 2.0

const timestampLayout = "2006-01-02 15:04:05"

// ErrInvalidAction is the only error the bridge raises to its boundary:
// an override command whose action is not ON or OFF.
var ErrInvalidAction = errors.New("invalid action")

// Bridge ties the state store to its collaborators. It owns the decision
// algorithm, telemetry ingestion and transition recording. Collaborator
// failures degrade to defaults; ingestion itself never fails.
type Bridge struct {
	state    *State
	settings Settings
	history  History
	usage    UsageLog
	notify   Notifier
}

// NewBridge wires a Bridge. All collaborators are required.
func NewBridge(state *State, settings Settings, history History, usage UsageLog, notify Notifier) *Bridge {
	return &Bridge{
		state:    state,
		settings: settings,
		history:  history,
		usage:    usage,
		notify:   notify,
	}
}

// State exposes the underlying state store for read-only snapshot access.
func (b *Bridge) State() *State {
	return b.state
}

// threshold reads the moisture threshold, treating a missing or unparsable
// value as the default. Settings failures must not abort the caller.
func (b *Bridge) threshold() float64 {
	raw, err := b.settings.Get(KeyThreshold)
	if err != nil || raw == "" {
		return DefaultThreshold
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return DefaultThreshold
	}
	return f
}

// autoMode reads the auto-mode flag; anything but the literal "true" is off.
func (b *Bridge) autoMode() bool {
	raw, err := b.settings.Get(KeyAutoMode)
	if err != nil {
		return false
	}
	return raw == "true"
}

// Resolve computes the pump action that should be in effect right now for
// the given soil reading (nil = sensor not reporting). Evaluated fresh on
// every call; priority is override, then threshold logic, then OFF.
func (b *Bridge) Resolve(soil *float64) Decision {
	threshold := b.threshold()
	autoMode := b.autoMode()

	manual, active := b.state.Override()

	var desired Action
	switch {
	case active:
		desired = manual
		if manual == "" {
			// Unreachable through SetOverride's contract; treat as a logic
			// error signal rather than guessing intent.
			log.Error().Msg("Manual override active with empty action, forcing OFF")
			desired = ActionOff
		}
	case autoMode && soil != nil && *soil < threshold:
		desired = ActionOn
	default:
		desired = ActionOff
	}

	return Decision{
		Action:               desired,
		Threshold:            threshold,
		AutoMode:             autoMode,
		ManualOverrideActive: active,
	}
}

// Command re-resolves the decision from the last known soil value without
// requiring a new telemetry submission.
func (b *Bridge) Command() Decision {
	snap := b.state.Snapshot()
	return b.Resolve(snap.SoilMoisture)
}

// Ingest accepts a telemetry payload, updates the state store atomically,
// appends the derived reading to the historical log and records a transition
// side effect when the resolved action changed.
func (b *Bridge) Ingest(p Payload, source string) IngestResult {
	timestamp := p.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(timestampLayout)
	}
	soil := coerceFloat(p.SoilMoisture)
	temperature := coerceFloat(p.Temperature)
	humidity := coerceFloat(p.Humidity)

	d := b.Resolve(soil)

	previous := b.state.replace(Snapshot{
		Timestamp:            timestamp,
		SoilMoisture:         soil,
		Temperature:          temperature,
		Humidity:             humidity,
		PumpStatus:           d.Action,
		Source:               source,
		ManualOverrideActive: d.ManualOverrideActive,
		AutoMode:             d.AutoMode,
		Threshold:            d.Threshold,
	})

	// Fire-and-forget: a history failure must not abort ingestion.
	if err := b.history.Insert(Reading{
		Timestamp:    timestamp,
		SoilMoisture: soil,
		Temperature:  temperature,
		Humidity:     humidity,
		PumpStatus:   d.Action,
		Source:       source,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to append sensor reading to history")
	}

	b.recordTransition(previous, d.Action, timestamp, source)

	return IngestResult{
		Timestamp:            timestamp,
		DesiredAction:        d.Action,
		Threshold:            d.Threshold,
		AutoMode:             d.AutoMode,
		ManualOverrideActive: d.ManualOverrideActive,
	}
}

// recordTransition persists pump transitions for notifications and stats.
// Every side effect is isolated: one failing must not prevent the others.
func (b *Bridge) recordTransition(previous, desired Action, timestamp, source string) {
	if previous == desired {
		return
	}

	if err := b.settings.Set(KeyLastPumpStatus, string(desired)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist last pump status")
	}

	if desired == ActionOn {
		if err := b.usage.Log(timestamp, LitersPerCycle); err != nil {
			log.Warn().Err(err).Msg("Failed to append water usage record")
		}
		if err := b.notify.Log("Pump turned ON ("+source+")", "info", timestamp); err != nil {
			log.Warn().Err(err).Msg("Failed to log pump-on notification")
		}
	} else {
		if err := b.notify.Log("Pump turned OFF ("+source+")", "info", timestamp); err != nil {
			log.Warn().Err(err).Msg("Failed to log pump-off notification")
		}
	}

	log.Info().
		Str("previous", string(previous)).
		Str("desired", string(desired)).
		Str("source", source).
		Msg("Pump transition recorded")
}

// Force installs a manual override window. The action is normalized to
// uppercase and must be ON or OFF; hold is clamped to the override bounds,
// defaulting when absent or unparsable. It deliberately bypasses the
// ingestion path and announces the forced command unconditionally.
func (b *Bridge) Force(action string, holdSeconds any) (Action, int, error) {
	act := Action(strings.ToUpper(strings.TrimSpace(action)))
	if act != ActionOn && act != ActionOff {
		return "", 0, ErrInvalidAction
	}

	hold := coerceSeconds(holdSeconds, OverrideDefaultSeconds)
	if hold < OverrideMinSeconds {
		hold = OverrideMinSeconds
	}
	if hold > OverrideMaxSeconds {
		hold = OverrideMaxSeconds
	}

	b.state.SetOverride(act, time.Duration(hold)*time.Second)

	// Must not abort the command on a notification failure.
	if err := b.notify.Log("Pump manually forced "+string(act), "warning", ""); err != nil {
		log.Warn().Err(err).Msg("Failed to log manual override notification")
	}

	log.Info().Str("action", string(act)).Int("hold_seconds", hold).Msg("Manual override installed")
	return act, hold, nil
}

// RefreshPollInterval reads the configured device poll interval, falling back
// to the last cached value on any failure, clamps it and caches the result.
// The value is advisory guidance for the device's polling cadence only.
func (b *Bridge) RefreshPollInterval() int {
	current := b.state.PollInterval()

	raw, err := b.settings.Get(KeyPollIntervalMs)
	if err != nil || raw == "" {
		return b.state.SetPollInterval(current)
	}
	configured, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		configured = current
	}
	return b.state.SetPollInterval(configured)
}
