// ABOUTME: Tests for theme preset parsing and active-theme resolution.
// ABOUTME: Validates catalog integrity, fallback behavior, and change notification.

package theme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/localstore"
	"github.com/parlorhq/parlor-web/internal/settings"
)

type okProber struct{}

func (okProber) Probe(context.Context, backend.Configuration) error { return nil }

func newController(t *testing.T) (*Controller, *settings.Service) {
	t.Helper()
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	manager := backend.NewManager(store, backend.WithManagerProber(okProber{}))
	svc := settings.New(manager, store)

	c, err := NewController(svc)
	require.NoError(t, err)
	return c, svc
}

func TestNewController_ParsesCatalog(t *testing.T) {
	c, _ := newController(t)

	presets := c.Presets()
	require.NotEmpty(t, presets)
	assert.Equal(t, "ember", presets[0].ID)

	for _, p := range presets {
		assert.NotEmpty(t, p.Name, "preset %s has no name", p.ID)
		assert.NotEmpty(t, p.Palette["background"], "preset %s has no background", p.ID)
		assert.NotEmpty(t, p.Palette["primary"], "preset %s has no primary", p.ID)
	}
}

func TestController_ActiveDefaultsToFirstPreset(t *testing.T) {
	c, _ := newController(t)

	// Defaults select "ember"; with no settings fetched that is also the
	// catalog's first entry.
	assert.Equal(t, "ember", c.Active(context.Background()).ID)
}

func TestController_ActiveFollowsSetting(t *testing.T) {
	c, svc := newController(t)

	svc.UpdateEntry(settings.KeyThemePreset, "midnight")

	active := c.Active(context.Background())
	assert.Equal(t, "midnight", active.ID)
	assert.True(t, active.Dark)
}

func TestController_ActiveUnknownIDFallsBack(t *testing.T) {
	c, svc := newController(t)

	svc.UpdateEntry(settings.KeyThemePreset, "no-such-theme")
	assert.Equal(t, "ember", c.Active(context.Background()).ID)
}

func TestController_SetRejectsUnknownPreset(t *testing.T) {
	c, _ := newController(t)

	err := c.Set(context.Background(), "no-such-theme")
	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestController_SubscribeNotifiesOnChange(t *testing.T) {
	c, svc := newController(t)

	var seen []string
	cancel := c.Subscribe(func(p Preset) { seen = append(seen, p.ID) })
	defer cancel()

	svc.UpdateEntry(settings.KeyThemePreset, "hearth")
	require.NotEmpty(t, seen)
	assert.Equal(t, "hearth", seen[len(seen)-1])
}
