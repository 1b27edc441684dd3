// ABOUTME: Periodic background health check with automatic recovery.
// ABOUTME: Re-resolves configuration and reinitializes the client when unhealthy.

package bootstrap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/localstore"
)

// DefaultHealInterval is how often the monitor re-derives health.
const DefaultHealInterval = 5 * time.Minute

// healTimeout bounds one healing attempt.
const healTimeout = 30 * time.Second

// HealthSnapshot is the monitor's view of the system at one check.
type HealthSnapshot struct {
	CheckedAt time.Time `json:"checkedAt"`
	// ValidSources names the configuration sources that currently validate.
	ValidSources []string `json:"validSources"`
	// ApparentClients approximates the number of live client instances by
	// counting auth-token key groups in the local store. A best-effort
	// diagnostic, not an exact count.
	ApparentClients int  `json:"apparentClients"`
	Healthy         bool `json:"healthy"`
}

// Monitor periodically re-validates configuration sources and triggers
// recovery when the system looks unhealthy. Healing is idempotent: failed
// attempts increment a counter and leave no partial state behind.
type Monitor struct {
	resolver *backend.Resolver
	manager  *backend.Manager
	store    *localstore.Store
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	attempts int
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval overrides DefaultHealInterval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// NewMonitor creates a stopped monitor.
func NewMonitor(resolver *backend.Resolver, manager *backend.Manager, store *localstore.Store, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		resolver: resolver,
		manager:  manager,
		store:    store,
		interval: DefaultHealInterval,
		logger:   slog.Default().With("component", "selfheal"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic check loop. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.done = make(chan struct{})
	go m.loop(m.done)
	m.logger.Info("self-healing monitor started", "interval", m.interval)
}

// Stop halts the loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.done)
	m.running = false
	m.logger.Info("self-healing monitor stopped")
}

// Attempts returns the number of failed healing attempts so far.
func (m *Monitor) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Monitor) loop(done <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-done:
			return
		}
	}
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), healTimeout)
	defer cancel()

	snap := m.HealthCheck(ctx)
	if snap.Healthy {
		return
	}
	m.logger.Warn("unhealthy state detected",
		"valid_sources", snap.ValidSources,
		"apparent_clients", snap.ApparentClients)
	if m.Heal(ctx) {
		m.logger.Info("self-healing succeeded")
	}
}

// HealthCheck re-derives a health snapshot without side effects.
func (m *Monitor) HealthCheck(ctx context.Context) HealthSnapshot {
	snap := HealthSnapshot{CheckedAt: time.Now()}
	snap.ValidSources = m.resolver.CheckSources(ctx)
	snap.ApparentClients = m.countApparentClients(ctx)
	snap.Healthy = len(snap.ValidSources) > 0 && snap.ApparentClients <= 1
	return snap
}

// countApparentClients counts auth-token key groups in the local store.
// More than one group suggests duplicate client instances left sessions
// behind. Heuristic only; there is no cross-process enforcement.
func (m *Monitor) countApparentClients(ctx context.Context) int {
	if m.store == nil {
		return 0
	}
	keys, err := m.store.Keys(ctx, localstore.PrefixAuthToken)
	if err != nil {
		m.logger.Warn("failed to scan auth keys", "error", err)
		return 0
	}
	return len(keys)
}

// Heal attempts recovery: re-resolve configuration (which re-validates and
// persists it for the fast path), then reinitialize the client manager.
// Returns true only if every step succeeds. Safe to call repeatedly.
func (m *Monitor) Heal(ctx context.Context) bool {
	cfg, source, rerr := m.resolver.Resolve(ctx)
	if rerr != nil {
		m.recordFailure("resolution", rerr)
		return false
	}

	ok, err := m.manager.Initialize(ctx, cfg)
	if !ok {
		m.recordFailure("client reinitialization", err)
		return false
	}

	m.mu.Lock()
	m.attempts = 0
	m.mu.Unlock()
	m.logger.Info("healing recovered configuration", "source", source)
	return true
}

func (m *Monitor) recordFailure(step string, err error) {
	m.mu.Lock()
	m.attempts++
	attempts := m.attempts
	m.mu.Unlock()
	m.logger.Warn("healing step failed", "step", step, "attempts", attempts, "error", err)
}
