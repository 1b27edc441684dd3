// ABOUTME: Package documentation for the appearance subsystem.
// ABOUTME: Describes the bundled preset catalog and reactive selection.

// Package theme manages the application's appearance presets.
//
// Presets are bundled into the binary from presets.toml and never change
// at runtime; only the selection does. The Controller resolves the active
// preset from the theme_preset application setting and falls back to the
// first catalog entry whenever the setting is missing or names an id the
// catalog does not carry, so rendering always has a usable palette.
package theme
