package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	"github.com/koetjeengdjalanan/nilakandi/internal/ingesterr"
	"github.com/koetjeengdjalanan/nilakandi/internal/logger"
	"github.com/koetjeengdjalanan/nilakandi/internal/version"
)

// maxErrorBody caps how much of a failed response is kept for the error message
const maxErrorBody = 4 << 10

// Request is a replayable provider call
type Request struct {
	Method string
	URL    string
	// Body is marshalled to JSON once and resent on every attempt
	Body any
}

// Client performs authenticated provider calls with the retry policy applied
type Client struct {
	http    *http.Client
	tokens  TokenSource
	policy  RetryPolicy
	clock   clock.Clock
	logger  *logger.Logger
	onRetry func(status int)
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock replaces the time source used for retry waits
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithRetryObserver is called with the status code (0 for connection
// failures) every time the client is about to wait and retry
func WithRetryObserver(fn func(status int)) Option {
	return func(c *Client) { c.onRetry = fn }
}

// WithRetryPolicy overrides the policy derived from configuration
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// NewClient creates a provider client
func NewClient(cfg config.HTTPConfig, tokens TokenSource, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: cfg.TimeoutDuration()},
		tokens: tokens,
		policy: NewRetryPolicy(cfg),
		clock:  clock.RealClock{},
		logger: log.Named(logger.ComponentPull),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req, retrying transient failures. A 2xx or skippable response is
// returned with its body unread; the caller must close it. Throttling, 5xx
// and connection failures surface as *ingesterr.TransientHTTPError once the
// attempts are spent, any other status as *ingesterr.PermanentHTTPError.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	hint := &hintedBackOff{fallback: c.policy.DefaultWait}
	maxAttempts := c.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(hint, uint64(maxAttempts-1)), ctx)

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.send(ctx, req.Method, req.URL, token, payload)
		if err != nil {
			c.logger.Info("Provider call finished",
				"method", req.Method, "url", req.URL, "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &ingesterr.TransientHTTPError{Method: req.Method, URL: req.URL, Err: err}
		}

		c.logger.Info("Provider call finished",
			"method", req.Method, "url", req.URL, "attempt", attempt, "status", r.StatusCode)

		switch {
		case r.StatusCode >= 200 && r.StatusCode < 300, c.policy.Skippable[r.StatusCode]:
			resp = r
			return nil
		case c.policy.Retryable != nil && c.policy.Retryable(r.StatusCode):
			wait := retryAfter(r.Header, c.clock.Now())
			drain(r)
			hint.hint = wait
			return &ingesterr.TransientHTTPError{
				Method:     req.Method,
				URL:        req.URL,
				StatusCode: r.StatusCode,
				RetryAfter: wait,
			}
		default:
			body := readErrorBody(r)
			return backoff.Permanent(&ingesterr.PermanentHTTPError{
				Method:     req.Method,
				URL:        req.URL,
				StatusCode: r.StatusCode,
				Body:       body,
			})
		}
	}

	notify := func(err error, wait time.Duration) {
		status := 0
		var transient *ingesterr.TransientHTTPError
		if errors.As(err, &transient) {
			status = transient.StatusCode
		}
		c.logger.Warn("Provider call failed, waiting before retry",
			"method", req.Method,
			"url", req.URL,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"wait_seconds", wait.Seconds(),
			"error", err)
		if c.onRetry != nil {
			c.onRetry(status)
		}
	}

	if err := backoff.RetryNotifyWithTimer(operation, b, notify, c.clock.NewTimer()); err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON sends req and decodes a 2xx body into out (when out is non-nil).
// A skippable non-2xx answer is not retried and comes back as
// *ingesterr.PermanentHTTPError so the caller can branch on its status.
func (c *Client) DoJSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ingesterr.PermanentHTTPError{
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       readErrorBody(resp),
		}
	}

	if out == nil {
		drain(resp)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s %s: %w", req.Method, req.URL, err)
	}
	return nil
}

// send performs a single attempt
func (c *Client) send(ctx context.Context, method, url, token string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(httpReq)
}

func readErrorBody(r *http.Response) string {
	defer r.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
	return string(bytes.TrimSpace(data))
}

func drain(r *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, maxErrorBody))
	_ = r.Body.Close()
}
