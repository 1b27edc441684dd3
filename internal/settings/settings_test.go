// ABOUTME: Tests for the settings cache service against a stub backend.
// ABOUTME: Validates fetch merge, optimistic updates, defaults, and subscriptions.

package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/localstore"
)

// readyProber accepts every configuration.
type readyProber struct{}

func (readyProber) Probe(context.Context, backend.Configuration) error { return nil }

// newReadyManager returns a manager whose client points at the test server.
func newReadyManager(t *testing.T, srv *httptest.Server) (*backend.Manager, *localstore.Store) {
	t.Helper()
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := backend.NewManager(store,
		backend.WithManagerProber(readyProber{}),
		backend.WithManagerHTTPClient(srv.Client()))
	_, err = m.Initialize(context.Background(), backend.Configuration{
		URL: srv.URL, AnonKey: "anon", Environment: "test",
	})
	require.NoError(t, err)
	return m, store
}

func TestService_GetMergesBackendOverDefaults(t *testing.T) {
	var fetches atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/app_settings", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode([]map[string]string{
			{"key": "app_name", "value": "Custom Parlor"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	manager, store := newReadyManager(t, srv)
	svc := New(manager, store)

	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Custom Parlor", got[KeyAppName])
	// Keys absent from the backend keep their defaults.
	assert.Equal(t, "30", got[KeyWebhookTimeout])

	// Second Get is a cache hit.
	_, err = svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetches.Load())
}

func TestService_DefaultsWhenClientNotReady(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	manager := backend.NewManager(store, backend.WithManagerProber(readyProber{}))
	svc := New(manager, store)

	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Parlor", got[KeyAppName])
}

func TestService_UpdateEntryPopulatesAndNotifies(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	manager := backend.NewManager(store, backend.WithManagerProber(readyProber{}))
	svc := New(manager, store)

	var notified map[string]string
	cancel := svc.Subscribe(func(m map[string]string) { notified = m })
	defer cancel()

	// No cache populated yet: the update starts from the defaults.
	svc.UpdateEntry(KeyAppName, "Foo")

	require.NotNil(t, notified)
	assert.Equal(t, "Foo", notified[KeyAppName])
	assert.Equal(t, "30", notified[KeyWebhookTimeout])

	got, err := svc.GetSetting(context.Background(), KeyAppName)
	require.NoError(t, err)
	assert.Equal(t, "Foo", got)
}

func TestService_GetSettingUnknownKey(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	manager := backend.NewManager(store, backend.WithManagerProber(readyProber{}))
	svc := New(manager, store)

	_, err = svc.GetSetting(context.Background(), "no_such_key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_SaveWritesThroughAndUpdatesLocally(t *testing.T) {
	var upserted []map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/app_settings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	})
	mux.HandleFunc("POST /rest/v1/app_settings", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upserted))
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	manager, store := newReadyManager(t, srv)
	svc := New(manager, store)

	require.NoError(t, svc.Save(context.Background(), KeyWebhookURL, "https://hooks.example.com/chat"))

	require.Len(t, upserted, 1)
	assert.Equal(t, "webhook_url", upserted[0]["key"])

	got, err := svc.GetSetting(context.Background(), KeyWebhookURL)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/chat", got)
}

func TestService_SaveWithoutClientStillUpdatesLocally(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	manager := backend.NewManager(store, backend.WithManagerProber(readyProber{}))
	svc := New(manager, store)

	err = svc.Save(context.Background(), KeyAppName, "Offline Name")
	assert.Error(t, err)

	got, gerr := svc.GetSetting(context.Background(), KeyAppName)
	require.NoError(t, gerr)
	assert.Equal(t, "Offline Name", got)
}

func TestService_SnapshotSurvivesRestart(t *testing.T) {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	manager := backend.NewManager(store, backend.WithManagerProber(readyProber{}))

	first := New(manager, store)
	first.UpdateEntry(KeyAppName, "Persisted Name")

	second := New(manager, store)
	got, err := second.GetSetting(context.Background(), KeyAppName)
	require.NoError(t, err)
	assert.Equal(t, "Persisted Name", got)
}
