// ABOUTME: TTL cache for the resolved backend configuration, persisted in the local store.
// ABOUTME: The resolver's fast path; invalidated on reset or explicit reconfiguration.

package backend

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parlorhq/parlor-web/internal/cache"
	"github.com/parlorhq/parlor-web/internal/localstore"
)

// ConfigCache holds the last resolved configuration with a TTL, persisting it
// under a per-environment key so later processes skip straight to the fast
// path. Unlike the settings cache this one is push-based: the resolver writes
// into it after a successful resolution.
type ConfigCache struct {
	store  *localstore.Store
	key    string
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entry   *cache.Entry[Configuration]
	subs    map[int]func(Configuration)
	nextSub int
}

// NewConfigCache creates a cache bound to the given environment id.
// A previously persisted entry is loaded immediately; its TTL still applies.
func NewConfigCache(store *localstore.Store, environment string) *ConfigCache {
	if environment == "" {
		environment = "default"
	}
	c := &ConfigCache{
		store:  store,
		key:    localstore.PrefixBackendConfig + environment,
		ttl:    cache.DefaultTTL,
		now:    time.Now,
		subs:   make(map[int]func(Configuration)),
		logger: slog.Default().With("component", "configcache"),
	}
	c.loadPersisted()
	return c
}

// SetClock injects a time source for tests.
func (c *ConfigCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *ConfigCache) loadPersisted() {
	if c.store == nil {
		return
	}
	raw, ok, err := c.store.Get(context.Background(), c.key)
	if err != nil || !ok {
		if err != nil {
			c.logger.Warn("failed to load persisted configuration", "error", err)
		}
		return
	}
	entry, err := cache.UnmarshalEntry[Configuration](raw)
	if err != nil {
		// Malformed persisted state counts as a cache miss.
		c.logger.Warn("discarding malformed persisted configuration", "error", err)
		return
	}
	c.mu.Lock()
	c.entry = &entry
	c.mu.Unlock()
}

// Get returns the cached configuration if its TTL has not elapsed.
func (c *ConfigCache) Get() (Configuration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil || !c.entry.Valid(c.now()) {
		return Configuration{}, false
	}
	return c.entry.Data, true
}

// Peek returns the cached configuration even if expired.
func (c *ConfigCache) Peek() (Configuration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return Configuration{}, false
	}
	return c.entry.Data, true
}

// Set stores a configuration, stamps it, persists it, and notifies
// subscribers synchronously.
func (c *ConfigCache) Set(ctx context.Context, cfg Configuration) error {
	c.mu.Lock()
	now := c.now()
	cfg.SavedAt = now
	cfg.IsInitialized = true
	entry := cache.Entry[Configuration]{Data: cfg, Timestamp: now, TTL: c.ttl}
	c.entry = &entry
	listeners := make([]func(Configuration), 0, len(c.subs))
	for _, fn := range c.subs {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	if c.store != nil {
		raw, err := cache.MarshalEntry(entry)
		if err == nil {
			err = c.store.Put(ctx, c.key, raw)
		}
		if err != nil {
			c.logger.Warn("failed to persist configuration", "error", err)
		}
	}

	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Invalidate drops the in-memory entry and the persisted copy.
func (c *ConfigCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, c.key); err != nil {
			c.logger.Warn("failed to clear persisted configuration", "error", err)
		}
	}
}

// Subscribe registers a listener called after every successful Set.
// The returned function cancels the subscription.
func (c *ConfigCache) Subscribe(fn func(Configuration)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
