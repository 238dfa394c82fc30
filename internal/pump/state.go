package pump

import (
	"sync"
	"time"
)

// Default persisted-configuration values, mirrored here so the daemon
// behaves sensibly before the settings store has ever been written.
const (
	DefaultThreshold      = 500.0
	DefaultPollIntervalMs = 5000
	MinPollIntervalMs     = 1000
)

// State is the in-memory cache for the latest hardware reading, the manual
// override window and the negotiated poll interval. One mutex guards all
// three as a single critical section: concurrent readers never observe a
// snapshot whose fields belong to different updates. The lock is held only
// across in-memory mutation, never across collaborator calls.
type State struct {
	mu sync.Mutex

	// now is swappable in tests to exercise override expiry without sleeping.
	now func() time.Time

	latest         Snapshot
	override       Action
	overrideExpiry time.Time
	pollIntervalMs int
}

// NewState creates a State with default values. It lives for the process
// lifetime and is passed explicitly to everything that needs it.
func NewState() *State {
	return &State{
		now: time.Now,
		latest: Snapshot{
			PumpStatus: ActionOff,
			Source:     "hardware",
			Threshold:  DefaultThreshold,
		},
		pollIntervalMs: DefaultPollIntervalMs,
	}
}

// Snapshot returns an atomic copy of the latest snapshot.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// SetOverride installs a manual override window, replacing any prior window
// unconditionally, and reflects the forced action into the snapshot
// immediately.
func (s *State) SetOverride(action Action, hold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.override = action
	s.overrideExpiry = s.now().Add(hold)
	s.latest.ManualOverrideActive = true
	s.latest.PumpStatus = action
}

// Override clears an expired window first, then reports whether an override
// is currently active and which action it holds. Expiry is lazy: a window is
// only cleared when something asks, which bounds staleness to the resolution
// cadence.
func (s *State) Override() (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.override != "" && !s.now().Before(s.overrideExpiry) {
		s.override = ""
		s.latest.ManualOverrideActive = false
	}
	return s.override, s.override != ""
}

// replace swaps in a freshly-ingested snapshot as one unit and returns the
// pump status that was in effect before it.
func (s *State) replace(next Snapshot) (previous Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous = s.latest.PumpStatus
	s.latest = next
	return previous
}

// PollInterval returns the cached poll interval in milliseconds.
func (s *State) PollInterval() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollIntervalMs
}

// SetPollInterval stores a new poll interval, clamped to the minimum, and
// returns the applied value.
func (s *State) SetPollInterval(ms int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms < MinPollIntervalMs {
		ms = MinPollIntervalMs
	}
	s.pollIntervalMs = ms
	return s.pollIntervalMs
}
