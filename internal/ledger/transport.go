package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"anchor-flow-lab/internal/observability"
)

// Default transport configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultBackoff     = 1500 * time.Millisecond
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// TransportConfig controls timeouts and retries of one endpoint.
type TransportConfig struct {
	Timeout     time.Duration
	MaxAttempts int           // total attempts per request, at least 1
	Backoff     time.Duration // attempt n waits Backoff*n before the next
}

// DefaultTransportConfig returns the defaults used by the CLI.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
	}
}

// Option configures a client transport.
type Option func(*transport)

// WithHTTPClient sets a custom http.Client. The client is reused across
// requests and never modified; a configured timeout applies to a copy.
func WithHTTPClient(client *http.Client) Option {
	return func(t *transport) {
		t.client = client
	}
}

// WithTransportConfig overrides timeout and retry settings.
func WithTransportConfig(cfg TransportConfig) Option {
	return func(t *transport) {
		if cfg.Timeout > 0 {
			t.timeout = cfg.Timeout
		}
		if cfg.MaxAttempts > 0 {
			t.maxAttempts = cfg.MaxAttempts
		}
		if cfg.Backoff >= 0 {
			t.backoff = cfg.Backoff
		}
	}
}

// transport issues GET requests against one base URL with bounded retries.
type transport struct {
	kind        string // metrics label: fcd, lcd, rpc
	baseURL     string
	client      *http.Client
	timeout     time.Duration // overrides client.Timeout when set
	maxAttempts int
	backoff     time.Duration
}

func newTransport(kind, baseURL string, opts ...Option) *transport {
	t := &transport{
		kind:        kind,
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.timeout > 0 && t.timeout != t.client.Timeout {
		c := *t.client
		c.Timeout = t.timeout
		t.client = &c
	}
	if t.maxAttempts < 1 {
		t.maxAttempts = 1
	}
	return t
}

// getJSON fetches path with params and decodes the body into out.
// Network errors, 429, other non-2xx statuses and undecodable bodies are
// retried. 400/422/501 mean the endpoint rejects the query and are returned
// immediately as *EndpointIncompatibilityError.
func (t *transport) getJSON(ctx context.Context, op, path string, params url.Values, out interface{}) error {
	target := t.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordLedgerRetry(t.kind, op)
			delay := t.backoff * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		start := time.Now()
		err := t.do(ctx, op, target, out)
		observability.RecordLedgerRequest(t.kind, op, time.Since(start).Seconds(), err)
		if err == nil {
			return nil
		}

		var incompat *EndpointIncompatibilityError
		if errors.As(err, &incompat) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return &TransportError{
		Endpoint: t.baseURL,
		Op:       op,
		Attempts: t.maxAttempts,
		Err:      lastErr,
	}
}

func (t *transport) do(ctx context.Context, op, target string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (429)")
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnprocessableEntity,
		resp.StatusCode == http.StatusNotImplemented:
		return &EndpointIncompatibilityError{
			Endpoint:   t.baseURL,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), maxErrorBody),
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), maxErrorBody))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
