// ABOUTME: Drives the bootstrap sequence: resolve config, init client, settle auth.
// ABOUTME: Single-flight guarded; failures route to NEEDS_SETUP or ERROR by kind.

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parlorhq/parlor-web/internal/backend"
)

// Invalidator is anything holding cached state that must be dropped on a
// full reset; the settings cache satisfies it.
type Invalidator interface {
	Invalidate()
}

// Orchestrator advances the phase machine by sequentially invoking the
// resolver, the client manager, and a lightweight auth-settle step.
type Orchestrator struct {
	machine  *Machine
	resolver *backend.Resolver
	manager  *backend.Manager
	cache    *backend.ConfigCache
	caches   []Invalidator
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewOrchestrator wires the bootstrap sequence together. Extra invalidators
// are cleared alongside the config cache on Reset.
func NewOrchestrator(machine *Machine, resolver *backend.Resolver, manager *backend.Manager, cache *backend.ConfigCache, caches ...Invalidator) *Orchestrator {
	return &Orchestrator{
		machine:  machine,
		resolver: resolver,
		manager:  manager,
		cache:    cache,
		caches:   caches,
		logger:   slog.Default().With("component", "orchestrator"),
	}
}

// IsRunning reports whether a bootstrap is currently in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Bootstrap runs the full sequence. A call made while another bootstrap is
// in flight logs and returns immediately without effect.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Info("bootstrap already in progress, ignoring")
		return nil
	}
	o.running = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	o.machine.LoadingConfig()
	cfg, source, rerr := o.resolver.Resolve(ctx)
	if rerr != nil {
		if rerr.Kind == backend.KindNeedsSetup {
			o.logger.Warn("no valid configuration source, setup required")
			o.machine.NeedsSetup(rerr.Message)
		} else {
			o.logger.Error("configuration resolution failed", "error", rerr)
			o.machine.Fail(rerr.Message)
		}
		return rerr
	}
	o.machine.ConfigLoaded(cfg, source)

	o.machine.InitializingClient()
	if ok, err := o.manager.Initialize(ctx, cfg); !ok {
		msg := "client initialization failed"
		if err != nil {
			msg = err.Error()
		}
		o.machine.Fail(msg)
		return fmt.Errorf("initializing client: %w", err)
	}
	o.machine.ClientReady()

	// Auth settle: fetch the persisted session so downstream consumers see a
	// stable auth state. Failure here is logged, never fatal.
	o.machine.InitializingAuth()
	if handle := o.manager.Client(); handle != nil {
		if _, err := handle.Auth().Session(ctx); err != nil {
			o.logger.Warn("auth settle failed, continuing", "error", err)
		}
	}
	o.machine.AuthReady()

	o.machine.Complete()
	o.logger.Info("bootstrap complete", "source", source, "url", cfg.URL)
	return nil
}

// Reset destroys the client handle, clears all caches, and returns the
// phase machine to NOT_STARTED. Used by the user-facing "reset
// configuration" action and by self-healing recovery.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.logger.Info("resetting bootstrap state")

	if err := o.manager.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying client: %w", err)
	}
	o.cache.Invalidate(ctx)
	for _, c := range o.caches {
		c.Invalidate()
	}
	o.machine.Reset()
	return nil
}
