// Package bootstrap sequences parlor-web's startup: resolve the backend
// configuration, initialize the client handle, settle auth state, and gate
// the rest of the application behind readiness.
//
// The Machine tracks progress through named phases with a display
// percentage; downstream consumers subscribe to it rather than polling. The
// Orchestrator drives the machine forward and routes failures to either the
// setup flow (no usable configuration source) or the error surface
// (configuration found but unusable). The Monitor re-derives health in the
// background and re-runs resolution and client initialization when the
// system degrades.
package bootstrap
