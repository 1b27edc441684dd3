// ABOUTME: Cache-aside service with singleflight miss coalescing and pub/sub.
// ABOUTME: Falls back to stale data on fetch failure, then to hardcoded defaults.

package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the authoritative value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Persister stores the serialized entry outside process memory so a warm
// cache survives restarts. Implementations must tolerate concurrent calls.
type Persister interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Save(ctx context.Context, raw []byte) error
	Clear(ctx context.Context) error
}

// Service is a cache-aside layer over a single value of type T.
//
// Get returns the in-memory value while its TTL holds. On a miss, concurrent
// callers are coalesced onto one in-flight fetch. If the fetch fails the
// last-known value (even expired) is served; only when no value was ever
// cached does the defaults function apply. Every successful write notifies
// subscribers synchronously.
type Service[T any] struct {
	name     string
	ttl      time.Duration
	fetch    FetchFunc[T]
	defaults func() T
	persist  Persister
	now      func() time.Time

	group  singleflight.Group
	logger *slog.Logger

	mu      sync.RWMutex
	entry   *Entry[T]
	subs    map[int]func(T)
	nextSub int
}

// Option configures a Service.
type Option[T any] func(*Service[T])

// WithTTL overrides DefaultTTL.
func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(s *Service[T]) { s.ttl = ttl }
}

// WithDefaults supplies the value served when a fetch fails with nothing cached.
func WithDefaults[T any](fn func() T) Option[T] {
	return func(s *Service[T]) { s.defaults = fn }
}

// WithPersister enables entry persistence across restarts.
func WithPersister[T any](p Persister) Option[T] {
	return func(s *Service[T]) { s.persist = p }
}

// WithClock injects a time source for tests.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Service[T]) { s.now = now }
}

// New creates a cache service. If a persister is configured, any previously
// persisted entry is loaded immediately (its own TTL still applies).
func New[T any](name string, fetch FetchFunc[T], opts ...Option[T]) *Service[T] {
	s := &Service[T]{
		name:   name,
		ttl:    DefaultTTL,
		fetch:  fetch,
		now:    time.Now,
		subs:   make(map[int]func(T)),
		logger: slog.Default().With("component", "cache", "cache", name),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.persist != nil {
		s.loadPersisted()
	}
	return s
}

func (s *Service[T]) loadPersisted() {
	raw, ok, err := s.persist.Load(context.Background())
	if err != nil {
		s.logger.Warn("failed to load persisted cache entry", "error", err)
		return
	}
	if !ok {
		return
	}
	entry, err := UnmarshalEntry[T](raw)
	if err != nil {
		// Malformed persisted state is treated as absent, never fatal.
		s.logger.Warn("discarding malformed persisted cache entry", "error", err)
		return
	}
	s.mu.Lock()
	s.entry = &entry
	s.mu.Unlock()
}

// Get returns the cached value, fetching on a miss. See the Service doc for
// the fallback order on fetch failure.
func (s *Service[T]) Get(ctx context.Context) (T, error) {
	if e, ok := s.freshEntry(); ok {
		return e.Data, nil
	}

	v, err, _ := s.group.Do(s.name, func() (interface{}, error) {
		// A concurrent caller may have filled the cache while we queued.
		if e, ok := s.freshEntry(); ok {
			return e.Data, nil
		}

		data, err := s.fetch(ctx)
		if err != nil {
			s.mu.RLock()
			stale := s.entry
			s.mu.RUnlock()
			if stale != nil {
				s.logger.Warn("fetch failed, serving stale value", "error", err)
				return stale.Data, nil
			}
			if s.defaults != nil {
				s.logger.Warn("fetch failed with empty cache, serving defaults", "error", err)
				return s.defaults(), nil
			}
			var zero T
			return zero, err
		}

		s.Set(data)
		return data, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the current value regardless of TTL, without fetching.
func (s *Service[T]) Peek() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		var zero T
		return zero, false
	}
	return s.entry.Data, true
}

// Set writes a value, refreshes the TTL, persists, and notifies subscribers.
func (s *Service[T]) Set(data T) {
	entry := Entry[T]{Data: data, Timestamp: s.now(), TTL: s.ttl}

	s.mu.Lock()
	s.entry = &entry
	listeners := s.snapshotSubsLocked()
	s.mu.Unlock()

	if s.persist != nil {
		raw, err := MarshalEntry(entry)
		if err == nil {
			err = s.persist.Save(context.Background(), raw)
		}
		if err != nil {
			s.logger.Warn("failed to persist cache entry", "error", err)
		}
	}

	for _, fn := range listeners {
		fn(data)
	}
}

// Update applies a mutation to the current value (or the defaults when
// nothing is cached) without a round trip to the backend. The TTL is
// refreshed and subscribers are notified — an optimistic local write.
func (s *Service[T]) Update(mutate func(T) T) T {
	s.mu.RLock()
	var base T
	switch {
	case s.entry != nil:
		base = s.entry.Data
	case s.defaults != nil:
		base = s.defaults()
	}
	s.mu.RUnlock()

	next := mutate(base)
	s.Set(next)
	return next
}

// Invalidate drops the in-memory entry and any persisted copy.
func (s *Service[T]) Invalidate() {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Clear(context.Background()); err != nil {
			s.logger.Warn("failed to clear persisted cache entry", "error", err)
		}
	}
}

// Subscribe registers a listener called synchronously after every successful
// cache write. The returned function cancels the subscription.
func (s *Service[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Service[T]) freshEntry() (Entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry != nil && s.entry.Valid(s.now()) {
		return *s.entry, true
	}
	return Entry[T]{}, false
}

// snapshotSubsLocked copies the listener set. Must be called with mu held.
func (s *Service[T]) snapshotSubsLocked() []func(T) {
	listeners := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		listeners = append(listeners, fn)
	}
	return listeners
}
