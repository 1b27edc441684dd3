// ABOUTME: Tests for the webhook relay client.
// ABOUTME: Covers reply parsing, retry policy, cancellation, and endpoint sourcing.

package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReply_UnmarshalSpellings(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"message", `{"message":"hi"}`, "hi"},
		{"output", `{"output":"hi"}`, "hi"},
		{"text", `{"text":"hi"}`, "hi"},
		{"message wins over text", `{"message":"a","text":"b"}`, "a"},
		{"output wins over text", `{"output":"a","text":"b"}`, "a"},
		{"empty object", `{}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var r Reply
			require.NoError(t, json.Unmarshal([]byte(tc.body), &r))
			assert.Equal(t, tc.want, r.Message)
		})
	}
}

func TestClient_SendDeliversTurn(t *testing.T) {
	var got Turn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"output":"pong"}`))
	}))
	defer srv.Close()

	c := NewClient(StaticEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	turn := NewTurn("sess-1", "user-1", "ping")
	reply, err := c.Send(context.Background(), turn)

	require.NoError(t, err)
	assert.Equal(t, "pong", reply.Message)
	assert.Equal(t, turn.TurnID, got.TurnID)
	assert.Equal(t, "ping", got.Message)
}

func TestClient_SendNoWebhookConfigured(t *testing.T) {
	c := NewClient(StaticEndpoint(""))
	_, err := c.Send(context.Background(), NewTurn("s", "u", "m"))
	assert.ErrorIs(t, err, ErrNoWebhook)
}

func TestClient_SendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"message":"recovered"}`))
	}))
	defer srv.Close()

	c := NewClient(StaticEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
		WithInitialBackoff(time.Millisecond))
	reply, err := c.Send(context.Background(), NewTurn("s", "u", "m"))

	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_SendExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(StaticEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
		WithInitialBackoff(time.Millisecond))
	_, err := c.Send(context.Background(), NewTurn("s", "u", "m"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_SendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(StaticEndpoint(srv.URL),
		WithHTTPClient(srv.Client()),
		WithInitialBackoff(time.Millisecond))
	_, err := c.Send(context.Background(), NewTurn("s", "u", "m"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SendCanceledByCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	c := NewClient(StaticEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	_, err := c.Send(ctx, NewTurn("s", "u", "m"))
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestNewTurn_PopulatesIdentity(t *testing.T) {
	a := NewTurn("sess", "user", "hello")
	b := NewTurn("sess", "user", "hello")

	assert.NotEmpty(t, a.TurnID)
	assert.NotEqual(t, a.TurnID, b.TurnID)
	assert.Equal(t, "sess", a.SessionID)
	assert.Equal(t, "user", a.UserID)
	assert.WithinDuration(t, time.Now(), a.Timestamp, time.Minute)
}
