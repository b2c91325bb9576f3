package persona

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const maxReplySize = 1 << 20

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig makes a single attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 1,
		BackoffBase: 250 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// Client calls the persona-generation endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithRetry sets the retry configuration.
func WithRetry(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		if cfg.MaxAttempts > 0 {
			c.retry = cfg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the endpoint at url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry:      DefaultRetryConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate sends one request and decodes the reply.
func (c *Client) Generate(ctx context.Context, req Request) (Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, &FatalError{err: fmt.Errorf("encode persona request: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		reply, err := c.do(ctx, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == c.retry.MaxAttempts {
			break
		}

		backoff := c.backoff(attempt)
		c.logger.Debug("persona request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return Reply{}, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (Reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &FatalError{err: fmt.Errorf("create persona request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Reply{}, &TransientError{err: fmt.Errorf("persona request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return Reply{}, &TransientError{err: fmt.Errorf("read persona reply: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, classifyStatus(resp.StatusCode, raw)
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return Reply{}, &FatalError{err: fmt.Errorf("decode persona reply: %w", err)}
	}
	return reply, nil
}

// backoff is exponential with +/-25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.retry.BackoffBase << (attempt - 1)
	if d > c.retry.MaxBackoff || d <= 0 {
		d = c.retry.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}
