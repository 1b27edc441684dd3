// ABOUTME: Cache-aside application settings over the backend app_settings table.
// ABOUTME: Optimistic local writes, stale/default fallback, pub/sub for reactive UI.

package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/cache"
	"github.com/parlorhq/parlor-web/internal/localstore"
)

// Well-known setting keys.
const (
	KeyAppName        = "app_name"
	KeyWelcomeMessage = "welcome_message"
	KeyWebhookURL     = "webhook_url"
	KeyWebhookTimeout = "webhook_timeout_seconds"
	KeyThemePreset    = "theme_preset"
	KeySignupsEnabled = "signups_enabled"
)

// ErrNotFound is returned by GetSetting for an unknown key.
var ErrNotFound = errors.New("settings: key not found")

// Defaults is the hardcoded value set served when nothing was ever fetched
// or cached. Keep in sync with the admin panel's general settings form.
func Defaults() map[string]string {
	return map[string]string{
		KeyAppName:        "Parlor",
		KeyWelcomeMessage: "Welcome to Parlor. Sign in to start chatting.",
		KeyWebhookURL:     "",
		KeyWebhookTimeout: "30",
		KeyThemePreset:    "ember",
		KeySignupsEnabled: "true",
	}
}

// settingRow is the wire shape of one app_settings row.
type settingRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Service is the settings cache. It sits above the client manager: fetches
// go through the live handle, so before bootstrap completes every Get is
// served from the persisted snapshot or the defaults.
type Service struct {
	manager *backend.Manager
	cache   *cache.Service[map[string]string]
	logger  *slog.Logger
}

// storePersister adapts the local store to the cache persister interface.
type storePersister struct {
	store *localstore.Store
	key   string
}

func (p *storePersister) Load(ctx context.Context) ([]byte, bool, error) {
	return p.store.Get(ctx, p.key)
}

func (p *storePersister) Save(ctx context.Context, raw []byte) error {
	return p.store.Put(ctx, p.key, raw)
}

func (p *storePersister) Clear(ctx context.Context) error {
	return p.store.Delete(ctx, p.key)
}

// New creates the settings service backed by manager's client handle and
// persisting its snapshot in store.
func New(manager *backend.Manager, store *localstore.Store, opts ...cache.Option[map[string]string]) *Service {
	s := &Service{
		manager: manager,
		logger:  slog.Default().With("component", "settings"),
	}
	base := []cache.Option[map[string]string]{
		cache.WithDefaults[map[string]string](Defaults),
	}
	if store != nil {
		base = append(base, cache.WithPersister[map[string]string](&storePersister{
			store: store,
			key:   localstore.KeySettingsCache,
		}))
	}
	s.cache = cache.New("settings", s.fetch, append(base, opts...)...)
	return s
}

// fetch loads all settings rows from the backend, merged over the defaults
// so newly introduced keys always have a value.
func (s *Service) fetch(ctx context.Context) (map[string]string, error) {
	handle := s.manager.Client()
	if handle == nil {
		return nil, errors.New("settings: backend client not ready")
	}

	var rows []settingRow
	if err := handle.From("app_settings").Select(ctx, "key,value", &rows); err != nil {
		return nil, fmt.Errorf("fetching settings: %w", err)
	}

	merged := Defaults()
	for _, row := range rows {
		merged[row.Key] = row.Value
	}
	return merged, nil
}

// Get returns the full settings map. The returned map is a copy.
func (s *Service) Get(ctx context.Context) (map[string]string, error) {
	m, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return copyMap(m), nil
}

// GetSetting returns one setting value.
func (s *Service) GetSetting(ctx context.Context, key string) (string, error) {
	m, err := s.cache.Get(ctx)
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// UpdateEntry applies an optimistic local write: the cache (and its
// persisted snapshot) is updated, the TTL refreshed, and subscribers
// notified, all without a backend round trip.
func (s *Service) UpdateEntry(key, value string) {
	s.cache.Update(func(m map[string]string) map[string]string {
		next := copyMap(m)
		if next == nil {
			next = Defaults()
		}
		next[key] = value
		return next
	})
}

// Save writes a setting through to the backend and then applies the local
// update. The local write happens even when the backend write fails so the
// admin sees their change; the error still propagates for surfacing.
func (s *Service) Save(ctx context.Context, key, value string) error {
	var saveErr error
	if handle := s.manager.Client(); handle != nil {
		saveErr = handle.From("app_settings").Upsert(ctx, []settingRow{{Key: key, Value: value}})
	} else {
		saveErr = errors.New("settings: backend client not ready")
	}

	s.UpdateEntry(key, value)

	if saveErr != nil {
		s.logger.Warn("backend settings write failed, local cache updated", "key", key, "error", saveErr)
	}
	return saveErr
}

// Invalidate drops the cached settings, forcing a refetch on next Get.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
}

// Subscribe registers a listener called synchronously after every cache
// write with a copy of the new settings map.
func (s *Service) Subscribe(fn func(map[string]string)) func() {
	return s.cache.Subscribe(func(m map[string]string) {
		fn(copyMap(m))
	})
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
