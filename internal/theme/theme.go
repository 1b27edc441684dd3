// ABOUTME: Appearance subsystem: bundled TOML presets and active-theme resolution.
// ABOUTME: The active preset follows the theme_preset setting reactively.

package theme

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/BurntSushi/toml"

	"github.com/parlorhq/parlor-web/internal/settings"
)

//go:embed presets.toml
var presetsTOML []byte

// Preset is one bundled appearance definition.
type Preset struct {
	ID      string            `toml:"id"`
	Name    string            `toml:"name"`
	Dark    bool              `toml:"dark"`
	Palette map[string]string `toml:"palette"`
}

type presetCatalog struct {
	Presets []Preset `toml:"preset"`
}

// ErrUnknownPreset is wrapped by Set for ids not in the catalog.
var ErrUnknownPreset = fmt.Errorf("theme: unknown preset")

// Controller resolves the active theme from the settings service and
// notifies subscribers when it changes.
type Controller struct {
	settings *settings.Service
	presets  []Preset
	byID     map[string]Preset
	logger   *slog.Logger
}

// NewController parses the embedded preset catalog.
func NewController(svc *settings.Service) (*Controller, error) {
	var catalog presetCatalog
	if err := toml.Unmarshal(presetsTOML, &catalog); err != nil {
		return nil, fmt.Errorf("parsing theme presets: %w", err)
	}
	if len(catalog.Presets) == 0 {
		return nil, fmt.Errorf("theme preset catalog is empty")
	}

	byID := make(map[string]Preset, len(catalog.Presets))
	for _, p := range catalog.Presets {
		byID[p.ID] = p
	}
	return &Controller{
		settings: svc,
		presets:  catalog.Presets,
		byID:     byID,
		logger:   slog.Default().With("component", "theme"),
	}, nil
}

// Presets returns the bundled catalog in declaration order.
func (c *Controller) Presets() []Preset {
	return append([]Preset(nil), c.presets...)
}

// Active returns the preset selected by the theme_preset setting. An
// unknown or missing id falls back to the catalog's first entry.
func (c *Controller) Active(ctx context.Context) Preset {
	id, err := c.settings.GetSetting(ctx, settings.KeyThemePreset)
	if err != nil {
		c.logger.Debug("theme setting unavailable, using default", "error", err)
		return c.presets[0]
	}
	if p, ok := c.byID[id]; ok {
		return p
	}
	c.logger.Warn("unknown theme preset selected, using default", "id", id)
	return c.presets[0]
}

// Set selects a preset by id, writing through the settings service.
func (c *Controller) Set(ctx context.Context, id string) error {
	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPreset, id)
	}
	return c.settings.Save(ctx, settings.KeyThemePreset, id)
}

// Subscribe notifies fn with the active preset after every settings change.
func (c *Controller) Subscribe(fn func(Preset)) func() {
	return c.settings.Subscribe(func(m map[string]string) {
		if p, ok := c.byID[m[settings.KeyThemePreset]]; ok {
			fn(p)
			return
		}
		fn(c.presets[0])
	})
}
