// ABOUTME: Finite-state tracker for the bootstrap sequence with progress and pub/sub.
// ABOUTME: Error and needs-setup are terminal side states until an explicit reset.

package bootstrap

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parlorhq/parlor-web/internal/backend"
)

// Phase is a named step in the bootstrap sequence.
type Phase string

const (
	PhaseNotStarted         Phase = "not_started"
	PhaseLoadingConfig      Phase = "loading_config"
	PhaseConfigLoaded       Phase = "config_loaded"
	PhaseInitializingClient Phase = "initializing_client"
	PhaseClientReady        Phase = "client_ready"
	PhaseInitializingAuth   Phase = "initializing_auth"
	PhaseAuthReady          Phase = "auth_ready"
	PhaseComplete           Phase = "complete"
	PhaseError              Phase = "error"
	PhaseNeedsSetup         Phase = "needs_setup"
)

// progressFor maps each happy-path phase to a display percentage.
// Used purely for UI, never for logic gating.
var progressFor = map[Phase]int{
	PhaseNotStarted:         0,
	PhaseLoadingConfig:      10,
	PhaseConfigLoaded:       25,
	PhaseInitializingClient: 40,
	PhaseClientReady:        60,
	PhaseInitializingAuth:   80,
	PhaseAuthReady:          95,
	PhaseComplete:           100,
}

// State is the machine's full observable state. Other components read it via
// Snapshot or Subscribe; all mutation goes through the transition methods.
type State struct {
	Phase        Phase
	Config       *backend.Configuration
	ConfigSource string
	Err          string
	Progress     int
	LastUpdated  time.Time
}

// Terminal reports whether the phase is a side state requiring Reset.
func (s State) Terminal() bool {
	return s.Phase == PhaseError || s.Phase == PhaseNeedsSetup
}

// Machine tracks bootstrap progress. Happy-path transitions are
// one-directional; Error and NeedsSetup are reachable from any in-progress
// phase and stick until Reset. Every transition notifies subscribers
// synchronously, and subscribing replays the current state immediately so
// late subscribers never miss the current phase.
type Machine struct {
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	now     func() time.Time
	subs    map[int]func(State)
	nextSub int
}

// NewMachine creates a machine in NOT_STARTED.
func NewMachine() *Machine {
	return &Machine{
		state:  State{Phase: PhaseNotStarted},
		now:    time.Now,
		subs:   make(map[int]func(State)),
		logger: slog.Default().With("component", "bootstrap"),
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener for state changes. The listener is called
// immediately with the current state, then synchronously on every
// transition. The returned function cancels the subscription.
func (m *Machine) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	current := m.state
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// advance applies a transition unless the machine sits in a terminal side
// state; those are only left via Reset.
func (m *Machine) advance(mutate func(*State)) {
	m.mu.Lock()
	if m.state.Terminal() {
		phase := m.state.Phase
		m.mu.Unlock()
		m.logger.Debug("transition ignored in terminal state", "phase", phase)
		return
	}
	mutate(&m.state)
	m.state.LastUpdated = m.now()
	state := m.state
	listeners := m.snapshotSubsLocked()
	m.mu.Unlock()

	m.logger.Debug("bootstrap phase", "phase", state.Phase, "progress", state.Progress)
	for _, fn := range listeners {
		fn(state)
	}
}

func (m *Machine) snapshotSubsLocked() []func(State) {
	listeners := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (m *Machine) toPhase(p Phase) {
	m.advance(func(s *State) {
		s.Phase = p
		s.Progress = progressFor[p]
	})
}

// LoadingConfig marks the start of configuration resolution.
func (m *Machine) LoadingConfig() { m.toPhase(PhaseLoadingConfig) }

// ConfigLoaded records the resolved configuration and its source.
func (m *Machine) ConfigLoaded(cfg backend.Configuration, source string) {
	m.advance(func(s *State) {
		s.Phase = PhaseConfigLoaded
		s.Progress = progressFor[PhaseConfigLoaded]
		s.Config = &cfg
		s.ConfigSource = source
	})
}

// InitializingClient marks the start of client initialization.
func (m *Machine) InitializingClient() { m.toPhase(PhaseInitializingClient) }

// ClientReady marks a verified client handle.
func (m *Machine) ClientReady() { m.toPhase(PhaseClientReady) }

// InitializingAuth marks the start of the auth-settle step.
func (m *Machine) InitializingAuth() { m.toPhase(PhaseInitializingAuth) }

// AuthReady marks auth state as settled.
func (m *Machine) AuthReady() { m.toPhase(PhaseAuthReady) }

// Complete marks the bootstrap as finished.
func (m *Machine) Complete() { m.toPhase(PhaseComplete) }

// Fail moves to the terminal ERROR state with a message. Progress is left
// where it was so the UI shows how far the sequence got.
func (m *Machine) Fail(message string) {
	m.advance(func(s *State) {
		s.Phase = PhaseError
		s.Err = message
	})
}

// NeedsSetup moves to the terminal NEEDS_SETUP state, routing callers to the
// setup flow instead of an error surface.
func (m *Machine) NeedsSetup(message string) {
	m.advance(func(s *State) {
		s.Phase = PhaseNeedsSetup
		s.Err = message
	})
}

// Reset returns the machine to NOT_STARTED, clearing config, source, error,
// and progress. Reset works from any state, including terminal ones.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = State{Phase: PhaseNotStarted, LastUpdated: m.now()}
	state := m.state
	listeners := m.snapshotSubsLocked()
	m.mu.Unlock()

	m.logger.Debug("bootstrap state machine reset")
	for _, fn := range listeners {
		fn(state)
	}
}
