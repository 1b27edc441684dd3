// Package cache implements the TTL cache-aside pattern used twice in
// parlor-web: once for the resolved backend configuration and once for
// application settings. Concurrent misses coalesce onto a single fetch,
// failures fall back to stale data and then hardcoded defaults, and every
// write notifies subscribers for reactive consumers.
package cache
