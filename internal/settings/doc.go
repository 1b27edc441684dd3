// Package settings caches application-level key/value settings fetched from
// the backend, with the same TTL/persistence/pub-sub shape as the backend
// configuration cache.
package settings
