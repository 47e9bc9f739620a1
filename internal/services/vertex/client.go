package vertex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 5
)

// Config captures the runtime settings required to talk to Vertex AI.
type Config struct {
	ProjectID      string
	Region         string
	ServiceAccount string
	BaseURL        string
	TimeoutSeconds int
}

// Client wraps the Vertex AI regional REST endpoint.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	tokenSource oauth2.TokenSource

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTokenSource supplies OAuth credentials. Without one, requests are sent
// unauthenticated (only useful against test servers).
func WithTokenSource(source oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokenSource = source
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 5).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Vertex AI client for the configured region.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			ProjectID:      strings.TrimSpace(cfg.ProjectID),
			Region:         strings.TrimSpace(cfg.Region),
			ServiceAccount: strings.TrimSpace(cfg.ServiceAccount),
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.BaseURL == "" {
		client.cfg.BaseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", client.cfg.Region)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Region returns the regional endpoint the client targets.
func (c *Client) Region() string {
	return c.cfg.Region
}

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.cfg.ProjectID, c.cfg.Region)
}

// apiError is the standard Google API error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	url := c.cfg.BaseURL + path
	var lastErr error
	for attempt := 0; attempt < c.retryMaxAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(backoffDelay(attempt, c.retryBaseDelay, c.retryMaxDelay))
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.tokenSource != nil {
			token, err := c.tokenSource.Token()
			if err != nil {
				return fmt.Errorf("fetch access token: %w", err)
			}
			token.SetAuthHeader(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = httpError(resp.StatusCode, data)
			continue
		}
		return httpError(resp.StatusCode, data)
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return fmt.Errorf("%s %s after %d attempts: %w", method, path, c.retryMaxAttempts, lastErr)
}

func (c *Client) sleep(d time.Duration) {
	if c.sleeper != nil {
		c.sleeper(d)
		return
	}
	time.Sleep(d)
}

func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base << (attempt - 1)
	if delay > max || delay <= 0 {
		delay = max
	}
	return delay
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func httpError(status int, body []byte) error {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("http %d: %s", status, envelope.Error.Message)
	}
	message := strings.TrimSpace(string(body))
	if len(message) > 200 {
		message = message[:200]
	}
	return fmt.Errorf("http %d: %s", status, message)
}
