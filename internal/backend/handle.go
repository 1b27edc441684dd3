// ABOUTME: Opaque client handle for the hosted backend: auth, REST queries, functions.
// ABOUTME: At most one live handle exists; the manager replaces it wholesale.

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/parlorhq/parlor-web/internal/localstore"
)

// Session is an authenticated backend session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	User         User      `json:"user"`
}

// User is the backend's view of an authenticated user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// Handle wraps the single live connection to the backend. It is created by
// the Manager and must not be retained across a Destroy.
type Handle struct {
	cfg    Configuration
	client *http.Client
	store  *localstore.Store
	logger *slog.Logger

	mu      sync.RWMutex
	session *Session
}

func newHandle(cfg Configuration, store *localstore.Store, client *http.Client) *Handle {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	h := &Handle{
		cfg:    cfg,
		client: client,
		store:  store,
		logger: slog.Default().With("component", "backend"),
	}
	h.loadSession()
	return h
}

// Config returns the configuration this handle was built from.
func (h *Handle) Config() Configuration { return h.cfg }

func (h *Handle) sessionKey() string {
	env := h.cfg.Environment
	if env == "" {
		env = "default"
	}
	return localstore.PrefixAuthToken + env
}

func (h *Handle) loadSession() {
	if h.store == nil {
		return
	}
	raw, ok, err := h.store.Get(context.Background(), h.sessionKey())
	if err != nil || !ok {
		return
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		h.logger.Warn("discarding malformed persisted session", "error", err)
		return
	}
	h.mu.Lock()
	h.session = &s
	h.mu.Unlock()
}

func (h *Handle) saveSession(ctx context.Context, s *Session) {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()

	if h.store == nil {
		return
	}
	if s == nil {
		if err := h.store.Delete(ctx, h.sessionKey()); err != nil {
			h.logger.Warn("failed to clear persisted session", "error", err)
		}
		return
	}
	raw, err := json.Marshal(s)
	if err == nil {
		err = h.store.Put(ctx, h.sessionKey(), raw)
	}
	if err != nil {
		h.logger.Warn("failed to persist session", "error", err)
	}
}

// do issues an authenticated request. The anon key is always attached; the
// bearer token is the session access token when one exists, otherwise the
// anon key itself (the backend's convention for unauthenticated access).
func (h *Handle) do(ctx context.Context, method, path string, query url.Values, body any, extra http.Header) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	u := h.cfg.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("apikey", h.cfg.AnonKey)
	bearer := h.cfg.AnonKey
	h.mu.RLock()
	if h.session != nil && h.session.AccessToken != "" {
		bearer = h.session.AccessToken
	}
	h.mu.RUnlock()
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	return h.client.Do(req)
}

// apiError decodes an error response body, falling back to the raw status.
func apiError(resp *http.Response) error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error_description"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		for _, m := range []string{payload.Message, payload.Msg, payload.Error} {
			if m != "" {
				return fmt.Errorf("backend: %s (status %d)", m, resp.StatusCode)
			}
		}
	}
	return fmt.Errorf("backend: status %d", resp.StatusCode)
}

func decodeInto(resp *http.Response, dest any) error {
	defer resp.Body.Close()
	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Auth returns the authentication surface.
func (h *Handle) Auth() *AuthAPI { return &AuthAPI{h: h} }

// From starts a REST query against the given table.
func (h *Handle) From(table string) *QueryBuilder {
	return &QueryBuilder{h: h, table: table, query: url.Values{}}
}

// Functions returns the remote function invocation surface.
func (h *Handle) Functions() *FunctionsAPI { return &FunctionsAPI{h: h} }

// AuthAPI covers session fetch, password sign-in, sign-up, and sign-out.
type AuthAPI struct {
	h *Handle
}

// Session returns the current session, refreshing the user record from the
// backend when an access token is held. Returns (nil, nil) when signed out.
func (a *AuthAPI) Session(ctx context.Context) (*Session, error) {
	a.h.mu.RLock()
	current := a.h.session
	a.h.mu.RUnlock()
	if current == nil {
		return nil, nil
	}

	resp, err := a.h.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching session user: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		// Token no longer honored; drop the stored session.
		a.h.saveSession(ctx, nil)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var user User
	if err := decodeInto(resp, &user); err != nil {
		return nil, err
	}

	refreshed := *current
	refreshed.User = user
	a.h.saveSession(ctx, &refreshed)
	return &refreshed, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// SignInWithPassword exchanges credentials for a session.
func (a *AuthAPI) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	q := url.Values{"grant_type": {"password"}}
	resp, err := a.h.do(ctx, http.MethodPost, "/auth/v1/token", q,
		map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var tok tokenResponse
	if err := decodeInto(resp, &tok); err != nil {
		return nil, err
	}
	s := sessionFromToken(tok)
	a.h.saveSession(ctx, s)
	return s, nil
}

// SignUp registers a new user. Depending on backend policy the returned
// session may be immediately usable or pending email confirmation.
func (a *AuthAPI) SignUp(ctx context.Context, email, password string) (*Session, error) {
	resp, err := a.h.do(ctx, http.MethodPost, "/auth/v1/signup", nil,
		map[string]string{"email": email, "password": password}, nil)
	if err != nil {
		return nil, fmt.Errorf("signing up: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var tok tokenResponse
	if err := decodeInto(resp, &tok); err != nil {
		return nil, err
	}
	s := sessionFromToken(tok)
	if s.AccessToken != "" {
		a.h.saveSession(ctx, s)
	}
	return s, nil
}

// SignOut revokes the current session and clears the persisted token.
func (a *AuthAPI) SignOut(ctx context.Context) error {
	a.h.mu.RLock()
	signedIn := a.h.session != nil
	a.h.mu.RUnlock()
	if !signedIn {
		return nil
	}

	resp, err := a.h.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil)
	if err == nil {
		resp.Body.Close()
	}
	// The local session is cleared even if the revoke call failed.
	a.h.saveSession(ctx, nil)
	return err
}

func sessionFromToken(tok tokenResponse) *Session {
	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		User:         tok.User,
	}
	if tok.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return s
}

// QueryBuilder is a minimal REST query over a single table.
type QueryBuilder struct {
	h     *Handle
	table string
	query url.Values
}

// Eq adds an equality filter on a column.
func (q *QueryBuilder) Eq(column, value string) *QueryBuilder {
	q.query.Set(column, "eq."+value)
	return q
}

// Select fetches rows, decoding the JSON array into dest.
func (q *QueryBuilder) Select(ctx context.Context, columns string, dest any) error {
	if columns == "" {
		columns = "*"
	}
	q.query.Set("select", columns)
	resp, err := q.h.do(ctx, http.MethodGet, "/rest/v1/"+q.table, q.query, nil, nil)
	if err != nil {
		return fmt.Errorf("querying %s: %w", q.table, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return decodeInto(resp, dest)
}

// Update patches rows matching the accumulated filters.
func (q *QueryBuilder) Update(ctx context.Context, values any) error {
	resp, err := q.h.do(ctx, http.MethodPatch, "/rest/v1/"+q.table, q.query, values, nil)
	if err != nil {
		return fmt.Errorf("updating %s: %w", q.table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// Upsert inserts rows, merging on conflict.
func (q *QueryBuilder) Upsert(ctx context.Context, values any) error {
	extra := http.Header{"Prefer": {"resolution=merge-duplicates"}}
	resp, err := q.h.do(ctx, http.MethodPost, "/rest/v1/"+q.table, q.query, values, extra)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", q.table, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	return nil
}

// FunctionsAPI invokes remote backend functions.
type FunctionsAPI struct {
	h *Handle
}

// Invoke calls the named function with a JSON payload, decoding the JSON
// reply into dest when dest is non-nil.
func (f *FunctionsAPI) Invoke(ctx context.Context, name string, payload, dest any) error {
	resp, err := f.h.do(ctx, http.MethodPost, "/functions/v1/"+name, nil, payload, nil)
	if err != nil {
		return fmt.Errorf("invoking function %s: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	return decodeInto(resp, dest)
}
