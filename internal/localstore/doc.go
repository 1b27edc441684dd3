// Package localstore provides small-state persistence for parlor-web using
// SQLite: the resolved backend configuration, the settings-cache snapshot,
// theme selection, and auth session tokens all live here, keyed under
// dot-delimited namespaces.
package localstore
