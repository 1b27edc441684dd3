// ABOUTME: Lifecycle owner of the single backend client handle.
// ABOUTME: Duplicate initializations share one in-flight result; readiness is event-based.

package backend

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/parlorhq/parlor-web/internal/localstore"
)

// Status is the client handle lifecycle state.
type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// initFlight shares the outcome of one in-flight initialization among every
// caller that arrived while it was pending.
type initFlight struct {
	done chan struct{}
	ok   bool
	err  error
}

// Manager owns the single live Handle. Initialize while READY with the same
// configuration, or while another initialization is pending, never creates a
// second handle. Replacement is create-then-destroy: the previous handle is
// destroyed only after its successor is verified, so there is no window with
// no client at all.
type Manager struct {
	store      *localstore.Store
	httpClient *http.Client
	prober     Prober
	logger     *slog.Logger

	mu      sync.Mutex
	status  Status
	errMsg  string
	handle  *Handle
	flight  *initFlight
	readyCh chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerProber replaces the probe used to verify a new handle.
func WithManagerProber(p Prober) ManagerOption {
	return func(m *Manager) { m.prober = p }
}

// WithManagerHTTPClient sets the HTTP client given to created handles.
func WithManagerHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = c }
}

// NewManager creates a manager in the UNINITIALIZED state.
func NewManager(store *localstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:   store,
		readyCh: make(chan struct{}),
		logger:  slog.Default().With("component", "clientmanager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.prober == nil {
		m.prober = NewHTTPProber(m.httpClient)
	}
	return m
}

// Initialize creates and verifies a handle for the given configuration.
// It returns true when a ready handle exists afterwards. A call made while
// another initialization is pending blocks on that flight's outcome instead
// of starting a second one; a call made while READY with an equal
// configuration is a no-op returning true.
func (m *Manager) Initialize(ctx context.Context, cfg Configuration) (bool, error) {
	m.mu.Lock()
	if m.status == StatusReady && m.handle != nil && m.handle.Config().Equal(cfg) {
		m.mu.Unlock()
		return true, nil
	}
	if m.flight != nil {
		flight := m.flight
		m.mu.Unlock()
		select {
		case <-flight.done:
			return flight.ok, flight.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	flight := &initFlight{done: make(chan struct{})}
	m.flight = flight
	m.setStatusLocked(StatusInitializing, "")
	m.mu.Unlock()

	ok, err := m.initialize(ctx, cfg)

	m.mu.Lock()
	flight.ok = ok
	flight.err = err
	m.flight = nil
	m.mu.Unlock()
	close(flight.done)

	return ok, err
}

// initialize performs the actual create-and-verify outside the lock.
func (m *Manager) initialize(ctx context.Context, cfg Configuration) (bool, error) {
	next := newHandle(cfg, m.store, m.httpClient)

	if err := m.prober.Probe(ctx, cfg); err != nil {
		m.mu.Lock()
		// Any previous working handle stays intact on failure.
		m.setStatusLocked(StatusError, err.Error())
		m.mu.Unlock()
		m.logger.Error("client initialization failed", "url", cfg.URL, "error", err)
		return false, err
	}

	m.mu.Lock()
	old := m.handle
	m.handle = next
	m.setStatusLocked(StatusReady, "")
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("replaced backend client handle", "url", cfg.URL)
	} else {
		m.logger.Info("backend client ready", "url", cfg.URL)
	}
	return true, nil
}

// setStatusLocked updates status and maintains the readiness channel.
// Must be called with mu held.
func (m *Manager) setStatusLocked(status Status, errMsg string) {
	wasReady := m.status == StatusReady
	m.status = status
	m.errMsg = errMsg

	if status == StatusReady && !wasReady {
		close(m.readyCh)
	}
	if status != StatusReady && wasReady {
		m.readyCh = make(chan struct{})
	}
}

// Client returns the live handle, or nil before a successful Initialize.
func (m *Manager) Client() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// State returns the current status and error message, if any.
func (m *Manager) State() (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.errMsg
}

// WaitForReady blocks until the manager becomes READY or the timeout
// elapses, returning false on timeout. Callers must treat false as "use
// fallback behavior", not as a fatal error.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	if m.status == StatusReady {
		m.mu.Unlock()
		return true
	}
	ready := m.readyCh
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Destroy tears down the handle and returns the manager to UNINITIALIZED.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	m.handle = nil
	m.setStatusLocked(StatusUninitialized, "")
	m.mu.Unlock()

	m.logger.Info("backend client destroyed")
	return nil
}
