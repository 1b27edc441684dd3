// ABOUTME: Ordered-source resolution of the backend configuration with live validation.
// ABOUTME: Priority is overrides > cached config > static JSON document > environment.

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Source names, in resolution priority order.
const (
	SourceOverride   = "override"
	SourceCache      = "cache"
	SourceStaticFile = "static-file"
	SourceEnv        = "env"
)

// Environment variables consulted by the env source.
const (
	EnvBackendURL     = "PARLOR_BACKEND_URL"
	EnvBackendAnonKey = "PARLOR_BACKEND_ANON_KEY"
)

// ErrorKind classifies a failed resolution so callers can route to different
// recovery flows: a setup wizard versus a retry/error surface.
type ErrorKind int

const (
	// KindNeedsSetup means no source produced even a well-formed candidate.
	// Recoverable only by user action.
	KindNeedsSetup ErrorKind = iota
	// KindValidationFailed means at least one well-formed candidate existed
	// but every probe failed. Recoverable by retry or switching source.
	KindValidationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNeedsSetup:
		return "needs-setup"
	case KindValidationFailed:
		return "validation-failed"
	default:
		return "unknown"
	}
}

// ResolveError is the typed failure returned across the resolver boundary.
// The orchestrator routes on Kind rather than matching message strings.
type ResolveError struct {
	Kind    ErrorKind
	Message string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Overrides carries runtime connection overrides and control flags, the
// server-side rendition of the URL query parameters the web client honors.
type Overrides struct {
	URL     string
	AnonKey string
	// ForceInit skips the cached configuration so a fresh source must validate.
	ForceInit bool
	// ResetConfig clears the cached configuration before resolving.
	ResetConfig bool
}

// staticDocument is the shape of the fetchable JSON configuration resource.
// Field names follow the hosted backend's conventions.
type staticDocument struct {
	SupabaseURL     string `json:"supabaseUrl"`
	SupabaseAnonKey string `json:"supabaseAnonKey"`
	Environment     string `json:"environment,omitempty"`
	LastUpdated     string `json:"lastUpdated,omitempty"`
}

// Resolver finds a usable backend configuration by trying sources in fixed
// priority order, validating each plausible candidate with a live probe.
// The first candidate that both parses and probes wins; later sources are
// never consulted after a success.
type Resolver struct {
	overrides   Overrides
	cache       *ConfigCache
	staticRef   string // file path or http(s) URL of the static document
	environment string
	prober      Prober
	httpClient  *http.Client
	getenv      func(string) string
	logger      *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithOverrides supplies runtime connection overrides and control flags.
func WithOverrides(o Overrides) ResolverOption {
	return func(r *Resolver) { r.overrides = o }
}

// WithProber replaces the default HTTP prober.
func WithProber(p Prober) ResolverOption {
	return func(r *Resolver) { r.prober = p }
}

// WithStaticRef points the static-file source at a path or URL.
func WithStaticRef(ref string) ResolverOption {
	return func(r *Resolver) { r.staticRef = ref }
}

// WithGetenv injects an environment lookup for tests.
func WithGetenv(fn func(string) string) ResolverOption {
	return func(r *Resolver) { r.getenv = fn }
}

// WithHTTPClient replaces the client used to fetch a remote static document.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.httpClient = c }
}

// NewResolver creates a resolver writing successful resolutions back into cache.
func NewResolver(cache *ConfigCache, environment string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:       cache,
		environment: environment,
		getenv:      os.Getenv,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      slog.Default().With("component", "resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prober == nil {
		r.prober = NewHTTPProber(nil)
	}
	return r
}

// candidateFunc yields a configuration candidate from one source. ok is false
// when the source has nothing plausible to offer; internal failures (storage
// errors, malformed JSON) are logged and treated the same way, never allowed
// to abort the resolution loop.
type candidateFunc func(ctx context.Context) (Configuration, bool)

// Resolve tries each source in priority order. On success from a non-cache
// source the configuration is written back into the cache for the fast path.
func (r *Resolver) Resolve(ctx context.Context) (Configuration, string, *ResolveError) {
	if r.overrides.ResetConfig && r.cache != nil {
		r.logger.Info("reset_config flag set, clearing cached configuration")
		r.cache.Invalidate(ctx)
	}

	sources := []struct {
		name string
		fn   candidateFunc
	}{
		{SourceOverride, r.fromOverrides},
		{SourceCache, r.fromCache},
		{SourceStaticFile, r.fromStaticFile},
		{SourceEnv, r.fromEnv},
	}

	wellFormed := 0
	var lastProbeErr error
	for _, src := range sources {
		if src.name == SourceCache && r.overrides.ForceInit {
			r.logger.Info("force_init flag set, skipping cached configuration")
			continue
		}

		cfg, ok := src.fn(ctx)
		if !ok {
			continue
		}
		if !cfg.Usable() {
			r.logger.Debug("source yielded unusable candidate", "source", src.name)
			continue
		}
		wellFormed++

		if err := r.prober.Probe(ctx, cfg); err != nil {
			r.logger.Warn("candidate failed connectivity probe", "source", src.name, "error", err)
			lastProbeErr = err
			continue
		}

		if src.name != SourceCache && r.cache != nil {
			if err := r.cache.Set(ctx, cfg); err != nil {
				r.logger.Warn("failed to cache resolved configuration", "error", err)
			}
		}
		r.logger.Info("resolved backend configuration", "source", src.name, "url", cfg.URL)
		return cfg, src.name, nil
	}

	if wellFormed == 0 {
		return Configuration{}, "", &ResolveError{
			Kind:    KindNeedsSetup,
			Message: "no configuration source yielded a usable candidate",
		}
	}
	return Configuration{}, "", &ResolveError{
		Kind:    KindValidationFailed,
		Message: fmt.Sprintf("%d candidate(s) found but none passed validation: %v", wellFormed, lastProbeErr),
	}
}

// CheckSources probes every source without side effects and returns the
// names of those that currently validate. Used by the self-healing monitor.
func (r *Resolver) CheckSources(ctx context.Context) []string {
	sources := []struct {
		name string
		fn   candidateFunc
	}{
		{SourceOverride, r.fromOverrides},
		{SourceCache, r.fromCache},
		{SourceStaticFile, r.fromStaticFile},
		{SourceEnv, r.fromEnv},
	}

	var valid []string
	for _, src := range sources {
		cfg, ok := src.fn(ctx)
		if !ok || !cfg.Usable() {
			continue
		}
		if err := r.prober.Probe(ctx, cfg); err != nil {
			continue
		}
		valid = append(valid, src.name)
	}
	return valid
}

func (r *Resolver) fromOverrides(context.Context) (Configuration, bool) {
	if r.overrides.URL == "" || r.overrides.AnonKey == "" {
		return Configuration{}, false
	}
	return Configuration{
		URL:         strings.TrimRight(r.overrides.URL, "/"),
		AnonKey:     r.overrides.AnonKey,
		Environment: r.environment,
	}, true
}

func (r *Resolver) fromCache(context.Context) (Configuration, bool) {
	if r.cache == nil {
		return Configuration{}, false
	}
	return r.cache.Get()
}

func (r *Resolver) fromStaticFile(ctx context.Context) (Configuration, bool) {
	if r.staticRef == "" {
		return Configuration{}, false
	}

	var raw []byte
	var err error
	if strings.HasPrefix(r.staticRef, "http://") || strings.HasPrefix(r.staticRef, "https://") {
		raw, err = r.fetchStaticDocument(ctx)
	} else {
		raw, err = os.ReadFile(r.staticRef)
	}
	if err != nil {
		r.logger.Debug("static configuration unavailable", "ref", r.staticRef, "error", err)
		return Configuration{}, false
	}

	var doc staticDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.logger.Warn("static configuration is malformed", "ref", r.staticRef, "error", err)
		return Configuration{}, false
	}
	if doc.SupabaseURL == "" || doc.SupabaseAnonKey == "" {
		return Configuration{}, false
	}

	env := doc.Environment
	if env == "" {
		env = r.environment
	}
	return Configuration{
		URL:         strings.TrimRight(doc.SupabaseURL, "/"),
		AnonKey:     doc.SupabaseAnonKey,
		Environment: env,
	}, true
}

func (r *Resolver) fetchStaticDocument(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.staticRef, nil)
	if err != nil {
		return nil, err
	}
	// Cache-busting: the document may sit behind a CDN.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching static configuration: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (r *Resolver) fromEnv(context.Context) (Configuration, bool) {
	url := r.getenv(EnvBackendURL)
	key := r.getenv(EnvBackendAnonKey)
	if url == "" || key == "" {
		return Configuration{}, false
	}
	return Configuration{
		URL:         strings.TrimRight(url, "/"),
		AnonKey:     key,
		Environment: r.environment,
	}, true
}
