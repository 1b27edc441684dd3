// Package backend resolves and owns the connection to the hosted backend
// service that holds all of parlor-web's persistence, auth, and business
// data.
//
// # Resolution
//
// A Configuration (URL + anon key) is found by trying sources in fixed
// priority order: runtime overrides, the TTL-cached previous resolution, a
// static JSON document, then environment variables. Every plausible
// candidate is validated by a live connectivity probe; the first one that
// both parses and probes wins. Failures are typed: KindNeedsSetup routes to
// the setup wizard, KindValidationFailed to a retry surface.
//
// # Client lifecycle
//
// Manager owns the single Handle. Duplicate or concurrent Initialize calls
// share one in-flight result, readiness waits are event-based, and handle
// replacement is create-then-destroy.
package backend
