// ABOUTME: Tests for the backend client handle against a stub HTTP backend.
// ABOUTME: Validates auth flows, header attachment, REST queries, and function invocation.

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor-web/internal/localstore"
)

func newTestBackend(t *testing.T, handler http.Handler) (*httptest.Server, *Handle, *localstore.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := Configuration{URL: srv.URL, AnonKey: "anon-key", Environment: "test"}
	return srv, newHandle(cfg, store, srv.Client()), store
}

func TestAuthAPI_SignInStoresSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])

		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "user-token",
			"expires_in":   3600,
			"user":         map[string]string{"id": "u1", "email": "alice@example.com"},
		})
	})
	_, h, store := newTestBackend(t, mux)

	s, err := h.Auth().SignInWithPassword(context.Background(), "alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "user-token", s.AccessToken)
	assert.Equal(t, "u1", s.User.ID)

	// Session was persisted under the environment's auth key.
	_, ok, err := store.Get(context.Background(), localstore.PrefixAuthToken+"test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthAPI_SignInRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid login credentials"})
	})
	_, h, _ := newTestBackend(t, mux)

	_, err := h.Auth().SignInWithPassword(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestAuthAPI_SessionWhenSignedOut(t *testing.T) {
	_, h, _ := newTestBackend(t, http.NewServeMux())

	s, err := h.Auth().Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAuthAPI_ExpiredTokenClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "user-token",
			"user":         map[string]string{"id": "u1"},
		})
	})
	mux.HandleFunc("GET /auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, h, store := newTestBackend(t, mux)

	_, err := h.Auth().SignInWithPassword(context.Background(), "a@example.com", "pw")
	require.NoError(t, err)

	s, err := h.Auth().Session(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)

	_, ok, err := store.Get(context.Background(), localstore.PrefixAuthToken+"test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryBuilder_SelectWithFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rest/v1/app_settings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key,value", r.URL.Query().Get("select"))
		assert.Equal(t, "eq.general", r.URL.Query().Get("category"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]map[string]string{
			{"key": "app_name", "value": "Parlor"},
		})
	})
	_, h, _ := newTestBackend(t, mux)

	var rows []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	err := h.From("app_settings").Eq("category", "general").Select(context.Background(), "key,value", &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "app_name", rows[0].Key)
}

func TestQueryBuilder_UpdateSendsPatch(t *testing.T) {
	var patched map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusNoContent)
	})
	_, h, _ := newTestBackend(t, mux)

	err := h.From("profiles").Eq("id", "u1").Update(context.Background(), map[string]string{"role": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "admin", patched["role"])
}

func TestFunctionsAPI_Invoke(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /functions/v1/relay-chat", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "hello", payload["message"])
		json.NewEncoder(w).Encode(map[string]string{"reply": "hi there"})
	})
	_, h, _ := newTestBackend(t, mux)

	var out map[string]string
	err := h.Functions().Invoke(context.Background(), "relay-chat", map[string]string{"message": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "hi there", out["reply"])
}
