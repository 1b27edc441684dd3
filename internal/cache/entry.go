// ABOUTME: TTL-stamped cache entry shared by the config cache and settings cache.
// ABOUTME: Validity is inclusive-exclusive: an entry aged exactly TTL is expired.

package cache

import (
	"encoding/json"
	"time"
)

// DefaultTTL is the time-to-live applied to cached state unless a caller
// overrides it. Both the backend configuration cache and the settings cache
// use this value.
const DefaultTTL = 5 * time.Minute

// Entry wraps a cached value with the time it was written and its TTL.
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
	TTL       time.Duration
}

// Valid reports whether the entry is still fresh at the given instant.
// An entry aged exactly TTL is expired.
func (e Entry[T]) Valid(now time.Time) bool {
	return now.Sub(e.Timestamp) < e.TTL
}

// persistedEntry is the JSON shape used when an entry is written to the
// local store. Durations are persisted as milliseconds.
type persistedEntry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
	TTL       int64 `json:"ttl"`
}

// MarshalEntry serializes an entry for persistence.
func MarshalEntry[T any](e Entry[T]) ([]byte, error) {
	return json.Marshal(persistedEntry[T]{
		Data:      e.Data,
		Timestamp: e.Timestamp.UnixMilli(),
		TTL:       e.TTL.Milliseconds(),
	})
}

// UnmarshalEntry deserializes a persisted entry.
func UnmarshalEntry[T any](raw []byte) (Entry[T], error) {
	var p persistedEntry[T]
	if err := json.Unmarshal(raw, &p); err != nil {
		return Entry[T]{}, err
	}
	return Entry[T]{
		Data:      p.Data,
		Timestamp: time.UnixMilli(p.Timestamp),
		TTL:       time.Duration(p.TTL) * time.Millisecond,
	}, nil
}
