// ABOUTME: HTTP client that relays chat turns to the configured automation webhook.
// ABOUTME: Handles per-request timeouts, caller cancellation, and bounded retry.

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parlorhq/parlor-web/internal/settings"
)

const (
	// DefaultTimeout applies when no webhook timeout setting is present.
	DefaultTimeout = 30 * time.Second

	// MinTimeout and MaxTimeout bound the configurable request timeout.
	MinTimeout = 10 * time.Second
	MaxTimeout = 30 * time.Second

	maxRetries     = 2
	initialBackoff = 500 * time.Millisecond
)

var (
	// ErrNoWebhook is returned when no webhook URL is configured.
	ErrNoWebhook = errors.New("relay: no webhook url configured")

	// ErrCanceled is returned when the caller cancels an in-flight turn.
	ErrCanceled = errors.New("relay: request canceled")
)

// Turn is one chat message relayed to the automation service.
type Turn struct {
	TurnID    string    `json:"turn_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn assigns a fresh turn id and timestamps the message.
func NewTurn(sessionID, userID, message string) Turn {
	return Turn{
		TurnID:    uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Reply is the automation service's answer to a turn. Services in the wild
// disagree on the field name, so any of "message", "output", or "text" is
// accepted.
type Reply struct {
	Message string
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw struct {
		Message string `json:"message"`
		Output  string `json:"output"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Message != "":
		r.Message = raw.Message
	case raw.Output != "":
		r.Message = raw.Output
	default:
		r.Message = raw.Text
	}
	return nil
}

// Endpoint is the resolved webhook target for a single request.
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// EndpointSource yields the current webhook endpoint. Returning an empty
// URL means no webhook is configured.
type EndpointSource func(ctx context.Context) (Endpoint, error)

// SettingsEndpoint sources the webhook URL and timeout from the application
// settings service. The timeout setting is in whole seconds and is clamped
// to [MinTimeout, MaxTimeout].
func SettingsEndpoint(svc *settings.Service) EndpointSource {
	return func(ctx context.Context) (Endpoint, error) {
		url, err := svc.GetSetting(ctx, settings.KeyWebhookURL)
		if err != nil && !errors.Is(err, settings.ErrNotFound) {
			return Endpoint{}, fmt.Errorf("reading webhook url: %w", err)
		}

		timeout := DefaultTimeout
		if raw, err := svc.GetSetting(ctx, settings.KeyWebhookTimeout); err == nil {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
		}
		if timeout < MinTimeout {
			timeout = MinTimeout
		}
		if timeout > MaxTimeout {
			timeout = MaxTimeout
		}
		return Endpoint{URL: url, Timeout: timeout}, nil
	}
}

// StaticEndpoint always relays to the given URL with the default timeout.
func StaticEndpoint(url string) EndpointSource {
	return func(context.Context) (Endpoint, error) {
		return Endpoint{URL: url, Timeout: DefaultTimeout}, nil
	}
}

// Client posts chat turns to an automation webhook.
type Client struct {
	endpoint EndpointSource
	http     *http.Client
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithInitialBackoff overrides the first retry delay. Used by tests.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// NewClient builds a relay client over the given endpoint source.
func NewClient(endpoint EndpointSource, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		backoff:  initialBackoff,
		logger:   slog.Default().With("component", "relay"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError marks an HTTP-level failure so retry logic can distinguish
// client mistakes (4xx, no retry) from server faults (5xx, retried).
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool { return e.code >= 500 }

// Send posts the turn and returns the automation service's reply. Server
// errors and network failures are retried up to two times with doubling
// backoff; 4xx responses fail immediately. A canceled ctx yields ErrCanceled.
func (c *Client) Send(ctx context.Context, turn Turn) (Reply, error) {
	ep, err := c.endpoint(ctx)
	if err != nil {
		return Reply{}, err
	}
	if ep.URL == "" {
		return Reply{}, ErrNoWebhook
	}

	payload, err := json.Marshal(turn)
	if err != nil {
		return Reply{}, fmt.Errorf("encoding turn: %w", err)
	}

	var lastErr error
	delay := c.backoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying webhook", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Reply{}, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
			}
			delay *= 2
		}

		reply, err := c.post(ctx, ep, payload)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return Reply{}, fmt.Errorf("%w: %v", ErrCanceled, context.Cause(ctx))
		}
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return Reply{}, err
		}
		lastErr = err
	}
	return Reply{}, fmt.Errorf("webhook failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, ep Endpoint, payload []byte) (Reply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("reading webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Reply{}, &statusError{code: resp.StatusCode, body: truncate(string(body), 200)}
	}

	var reply Reply
	if len(body) > 0 {
		if err := json.Unmarshal(body, &reply); err != nil {
			return Reply{}, fmt.Errorf("decoding webhook reply: %w", err)
		}
	}
	return reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
