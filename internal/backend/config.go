// ABOUTME: Backend connection configuration resolved from override/cache/file/env sources
// ABOUTME: A configuration is usable iff its URL parses and the anon key is non-empty

package backend

import (
	"net/url"
	"time"
)

// Configuration addresses the hosted backend service. Treated as immutable
// once validated; a new resolution replaces the value wholesale.
type Configuration struct {
	URL           string    `json:"url"`
	AnonKey       string    `json:"anonKey"`
	Environment   string    `json:"environment,omitempty"`
	SavedAt       time.Time `json:"savedAt,omitempty"`
	IsInitialized bool      `json:"isInitialized"`
}

// Usable reports whether the configuration is well-formed enough to attempt
// a connection: the URL must parse as absolute http(s) and the anon key must
// be non-empty. Reachability is the prober's job, not this method's.
func (c Configuration) Usable() bool {
	if c.AnonKey == "" {
		return false
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Equal reports whether two configurations address the same backend.
// Bookkeeping fields (SavedAt, IsInitialized) are ignored.
func (c Configuration) Equal(other Configuration) bool {
	return c.URL == other.URL && c.AnonKey == other.AnonKey && c.Environment == other.Environment
}
