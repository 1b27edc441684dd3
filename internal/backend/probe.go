// ABOUTME: Connectivity probe used to validate configuration candidates.
// ABOUTME: A lightweight authenticated request against the backend auth health endpoint.

package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ProbeTimeout bounds a single connectivity probe.
const ProbeTimeout = 5 * time.Second

// Prober validates that a configuration actually reaches a live backend.
type Prober interface {
	Probe(ctx context.Context, cfg Configuration) error
}

// HTTPProber probes by requesting the backend's auth health endpoint with
// the candidate anon key. Any non-2xx response counts as a failed probe, so
// a rejected key fails validation the same way an unreachable host does.
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber creates a prober. A nil client gets a default with
// ProbeTimeout applied.
func NewHTTPProber(client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: ProbeTimeout}
	}
	return &HTTPProber{client: client}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, cfg Configuration) error {
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL+"/auth/v1/health", nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("apikey", cfg.AnonKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", cfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probing %s: unexpected status %d", cfg.URL, resp.StatusCode)
	}
	return nil
}
