// ABOUTME: Tests for the client manager lifecycle.
// ABOUTME: Validates single-handle invariants, shared in-flight init, readiness, destroy.

package backend

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor-web/internal/localstore"
)

// gateProber blocks each probe until released, counting attempts.
type gateProber struct {
	calls   atomic.Int64
	release chan struct{}
	fail    atomic.Bool
}

func newGateProber() *gateProber {
	return &gateProber{release: make(chan struct{})}
}

func (p *gateProber) Probe(ctx context.Context, _ Configuration) error {
	p.calls.Add(1)
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p.fail.Load() {
		return assert.AnError
	}
	return nil
}

func newTestManager(t *testing.T, prober Prober) *Manager {
	t.Helper()
	s, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, WithManagerProber(prober))
}

func testConfig() Configuration {
	return Configuration{URL: "https://x.example.com", AnonKey: "k", Environment: "test"}
}

func TestManager_InitializeSuccess(t *testing.T) {
	m := newTestManager(t, &fakeProber{})

	ok, err := m.Initialize(context.Background(), testConfig())
	require.NoError(t, err)
	assert.True(t, ok)

	status, errMsg := m.State()
	assert.Equal(t, StatusReady, status)
	assert.Empty(t, errMsg)
	assert.NotNil(t, m.Client())
}

func TestManager_InitializeFailureSetsError(t *testing.T) {
	prober := &fakeProber{reject: map[string]bool{"https://x.example.com": true}}
	m := newTestManager(t, prober)

	ok, err := m.Initialize(context.Background(), testConfig())
	assert.Error(t, err)
	assert.False(t, ok)

	status, errMsg := m.State()
	assert.Equal(t, StatusError, status)
	assert.NotEmpty(t, errMsg)
}

func TestManager_ConcurrentInitializeSharesFlight(t *testing.T) {
	prober := newGateProber()
	m := newTestManager(t, prober)
	cfg := testConfig()

	const callers = 5
	var wg sync.WaitGroup
	oks := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Initialize(context.Background(), cfg)
			assert.NoError(t, err)
			oks[i] = ok
		}()
	}

	// Give every caller time to reach the manager before releasing the probe.
	time.Sleep(50 * time.Millisecond)
	close(prober.release)
	wg.Wait()

	// Exactly one probe ran; every caller observed its result.
	assert.Equal(t, int64(1), prober.calls.Load())
	for _, ok := range oks {
		assert.True(t, ok)
	}
}

func TestManager_InitializeWhileReadyIsNoOp(t *testing.T) {
	prober := &fakeProber{}
	m := newTestManager(t, prober)
	cfg := testConfig()

	_, err := m.Initialize(context.Background(), cfg)
	require.NoError(t, err)
	first := m.Client()

	ok, err := m.Initialize(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same handle, and no second probe.
	assert.Same(t, first, m.Client())
	assert.Len(t, prober.probedURLs(), 1)
}

func TestManager_FailedReplaceKeepsPreviousHandle(t *testing.T) {
	prober := &fakeProber{reject: map[string]bool{"https://bad.example.com": true}}
	m := newTestManager(t, prober)

	_, err := m.Initialize(context.Background(), testConfig())
	require.NoError(t, err)
	working := m.Client()
	require.NotNil(t, working)

	bad := Configuration{URL: "https://bad.example.com", AnonKey: "k"}
	ok, err := m.Initialize(context.Background(), bad)
	assert.Error(t, err)
	assert.False(t, ok)

	// Destroy-before-replace happens only after success, so the working
	// handle survives the failed replacement.
	assert.Same(t, working, m.Client())
	status, _ := m.State()
	assert.Equal(t, StatusError, status)
}

func TestManager_WaitForReady(t *testing.T) {
	prober := newGateProber()
	m := newTestManager(t, prober)

	// Not ready yet: times out with false, never errors.
	assert.False(t, m.WaitForReady(context.Background(), 20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Initialize(context.Background(), testConfig())
	}()

	waited := make(chan bool, 1)
	go func() {
		waited <- m.WaitForReady(context.Background(), 2*time.Second)
	}()

	close(prober.release)
	<-done
	assert.True(t, <-waited)

	// Already ready: returns immediately.
	assert.True(t, m.WaitForReady(context.Background(), 0))
}

func TestManager_Destroy(t *testing.T) {
	m := newTestManager(t, &fakeProber{})

	_, err := m.Initialize(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Destroy(context.Background()))

	assert.Nil(t, m.Client())
	status, _ := m.State()
	assert.Equal(t, StatusUninitialized, status)
	assert.False(t, m.WaitForReady(context.Background(), 10*time.Millisecond))
}
