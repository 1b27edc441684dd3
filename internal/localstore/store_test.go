// ABOUTME: Tests for the SQLite key/value store.
// ABOUTME: Validates get/put/delete, prefix listing, and prefix clearing.

package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get(context.Background(), "no-such-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "backend.config.prod", []byte(`{"url":"x"}`)))

	value, ok, err := s.Get(ctx, "backend.config.prod")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"url":"x"}`, string(value))
}

func TestStore_PutOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("first")))
	require.NoError(t, s.Put(ctx, "k", []byte("second")))

	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", string(value))
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error
	require.NoError(t, s.Delete(ctx, "k"))
}

func TestStore_KeysPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "auth.token.prod", []byte("a")))
	require.NoError(t, s.Put(ctx, "auth.token.staging", []byte("b")))
	require.NoError(t, s.Put(ctx, "settings.cache", []byte("c")))

	keys, err := s.Keys(ctx, "auth.token.")
	require.NoError(t, err)
	assert.Equal(t, []string{"auth.token.prod", "auth.token.staging"}, keys)
}

func TestStore_DeletePrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "auth.token.prod", []byte("a")))
	require.NoError(t, s.Put(ctx, "auth.token.staging", []byte("b")))
	require.NoError(t, s.Put(ctx, "settings.cache", []byte("c")))

	n, err := s.DeletePrefix(ctx, "auth.token.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := s.Keys(ctx, "auth.token.")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Unrelated keys survive
	_, ok, err := s.Get(ctx, "settings.cache")
	require.NoError(t, err)
	assert.True(t, ok)
}
