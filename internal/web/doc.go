// ABOUTME: Package documentation for the HTTP front end.
// ABOUTME: Describes route gating, sessions, and the setup wizard.

// Package web serves the user-facing HTTP surface: the chat page, sign-in
// and sign-up forms, the admin settings panel, and the setup wizard.
//
// # Phase gating
//
// Every user-facing route is wrapped in a phase gate that consults the
// bootstrap state machine. Until bootstrap completes, requests get a
// self-refreshing progress page; a NEEDS_SETUP outcome redirects to /setup
// and an ERROR outcome renders an error page offering a configuration
// reset. The gate means no handler ever talks to a backend client that
// does not exist yet.
//
// # Sessions
//
// Browser sessions are HS256-signed JWT cookies carrying the backend user
// id, email, and role. The role gates the admin panel (admin or owner).
// State-changing requests are protected with a double-submit CSRF token.
//
// # Setup wizard
//
// /setup accepts a backend URL and public key, validates them with a live
// probe, saves them into the configuration cache, and restarts bootstrap.
// When a local setup password hash is stored, the wizard requires it.
package web
