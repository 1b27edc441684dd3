// ABOUTME: Tests for the bootstrap phase state machine.
// ABOUTME: Validates transition progress, terminal stickiness, reset, and pub/sub replay.

package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor-web/internal/backend"
)

func TestMachine_HappyPathProgress(t *testing.T) {
	m := NewMachine()
	cfg := backend.Configuration{URL: "https://x.example.com", AnonKey: "k"}

	steps := []struct {
		advance  func()
		phase    Phase
		progress int
	}{
		{m.LoadingConfig, PhaseLoadingConfig, 10},
		{func() { m.ConfigLoaded(cfg, backend.SourceEnv) }, PhaseConfigLoaded, 25},
		{m.InitializingClient, PhaseInitializingClient, 40},
		{m.ClientReady, PhaseClientReady, 60},
		{m.InitializingAuth, PhaseInitializingAuth, 80},
		{m.AuthReady, PhaseAuthReady, 95},
		{m.Complete, PhaseComplete, 100},
	}

	last := 0
	for _, step := range steps {
		step.advance()
		state := m.Snapshot()
		assert.Equal(t, step.phase, state.Phase)
		assert.Equal(t, step.progress, state.Progress)
		// Progress is monotonic along the happy path.
		assert.GreaterOrEqual(t, state.Progress, last)
		last = state.Progress
	}

	state := m.Snapshot()
	require.NotNil(t, state.Config)
	assert.Equal(t, backend.SourceEnv, state.ConfigSource)
}

func TestMachine_SubscribeReplaysCurrentState(t *testing.T) {
	m := NewMachine()
	m.LoadingConfig()

	var seen []Phase
	cancel := m.Subscribe(func(s State) { seen = append(seen, s.Phase) })
	defer cancel()

	// Late subscriber gets the current phase immediately.
	require.Equal(t, []Phase{PhaseLoadingConfig}, seen)

	m.ConfigLoaded(backend.Configuration{URL: "https://x.example.com", AnonKey: "k"}, backend.SourceCache)
	assert.Equal(t, []Phase{PhaseLoadingConfig, PhaseConfigLoaded}, seen)

	cancel()
	m.InitializingClient()
	assert.Len(t, seen, 2)
}

func TestMachine_ErrorIsTerminalUntilReset(t *testing.T) {
	m := NewMachine()
	m.LoadingConfig()
	m.Fail("backend unreachable")

	state := m.Snapshot()
	assert.Equal(t, PhaseError, state.Phase)
	assert.Equal(t, "backend unreachable", state.Err)
	// Progress stays where the sequence stopped.
	assert.Equal(t, 10, state.Progress)

	// Further transitions are ignored.
	m.Complete()
	assert.Equal(t, PhaseError, m.Snapshot().Phase)

	m.Reset()
	m.LoadingConfig()
	assert.Equal(t, PhaseLoadingConfig, m.Snapshot().Phase)
}

func TestMachine_NeedsSetupIsDistinctFromError(t *testing.T) {
	m := NewMachine()
	m.LoadingConfig()
	m.NeedsSetup("no configuration source")

	state := m.Snapshot()
	assert.Equal(t, PhaseNeedsSetup, state.Phase)
	assert.True(t, state.Terminal())
}

func TestMachine_ResetFromEveryState(t *testing.T) {
	cfg := backend.Configuration{URL: "https://x.example.com", AnonKey: "k"}

	scenarios := map[string]func(m *Machine){
		"not started": func(m *Machine) {},
		"mid-flight": func(m *Machine) {
			m.LoadingConfig()
			m.ConfigLoaded(cfg, backend.SourceEnv)
			m.InitializingClient()
		},
		"complete": func(m *Machine) {
			m.LoadingConfig()
			m.ConfigLoaded(cfg, backend.SourceEnv)
			m.InitializingClient()
			m.ClientReady()
			m.InitializingAuth()
			m.AuthReady()
			m.Complete()
		},
		"error":       func(m *Machine) { m.LoadingConfig(); m.Fail("x") },
		"needs setup": func(m *Machine) { m.LoadingConfig(); m.NeedsSetup("x") },
	}

	for name, setup := range scenarios {
		t.Run(name, func(t *testing.T) {
			m := NewMachine()
			setup(m)
			m.Reset()

			state := m.Snapshot()
			assert.Equal(t, PhaseNotStarted, state.Phase)
			assert.Equal(t, 0, state.Progress)
			assert.Nil(t, state.Config)
			assert.Empty(t, state.ConfigSource)
			assert.Empty(t, state.Err)
		})
	}
}
