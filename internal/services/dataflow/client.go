package dataflow

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

// Job states reported by the Dataflow jobs API.
const (
	JobStatePending   = "JOB_STATE_PENDING"
	JobStateQueued    = "JOB_STATE_QUEUED"
	JobStateRunning   = "JOB_STATE_RUNNING"
	JobStateDone      = "JOB_STATE_DONE"
	JobStateFailed    = "JOB_STATE_FAILED"
	JobStateCancelled = "JOB_STATE_CANCELLED"
	JobStateDrained   = "JOB_STATE_DRAINED"
)

// IsTerminalState reports whether the job state is final.
func IsTerminalState(state string) bool {
	switch state {
	case JobStateDone, JobStateFailed, JobStateCancelled, JobStateDrained:
		return true
	default:
		return false
	}
}

// Config captures the runtime settings required to talk to Dataflow.
type Config struct {
	ProjectID      string
	Region         string
	ServiceAccount string
	TempLocation   string
	BaseURL        string
	TimeoutSeconds int
}

// Client wraps the regional Dataflow REST endpoint.
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

// NewClient constructs a Dataflow client for the configured region.
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
			TempLocation:   strings.TrimSpace(cfg.TempLocation),
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
		client.cfg.BaseURL = "https://dataflow.googleapis.com"
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// FlexTemplateSpec describes a flex template launch request.
type FlexTemplateSpec struct {
	JobName        string
	TemplatePath   string
	Parameters     map[string]string
	MachineType    string
	MaxWorkers     int
	WorkerSDKImage string
}

// Job is the subset of Dataflow job state the pipeline consumes.
type Job struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CurrentState string `json:"currentState"`
}

type flexEnvironment struct {
	MachineType         string `json:"machineType,omitempty"`
	MaxWorkers          int    `json:"maxWorkers,omitempty"`
	TempLocation        string `json:"tempLocation,omitempty"`
	ServiceAccountEmail string `json:"serviceAccountEmail,omitempty"`
	SDKContainerImage   string `json:"sdkContainerImage,omitempty"`
}

type launchParameter struct {
	JobName              string            `json:"jobName"`
	ContainerSpecGcsPath string            `json:"containerSpecGcsPath"`
	Parameters           map[string]string `json:"parameters,omitempty"`
	Environment          *flexEnvironment  `json:"environment,omitempty"`
}

type launchRequest struct {
	LaunchParameter launchParameter `json:"launchParameter"`
}

type launchResponse struct {
	Job Job `json:"job"`
}

// LaunchFlexTemplate submits a flex template job and returns the created job.
func (c *Client) LaunchFlexTemplate(ctx context.Context, spec FlexTemplateSpec) (*Job, error) {
	if strings.TrimSpace(spec.JobName) == "" {
		return nil, fmt.Errorf("flex template job name must be set")
	}
	if strings.TrimSpace(spec.TemplatePath) == "" {
		return nil, fmt.Errorf("flex template path must be set")
	}

	body := launchRequest{
		LaunchParameter: launchParameter{
			JobName:              spec.JobName,
			ContainerSpecGcsPath: spec.TemplatePath,
			Parameters:           spec.Parameters,
			Environment: &flexEnvironment{
				MachineType:         spec.MachineType,
				MaxWorkers:          spec.MaxWorkers,
				TempLocation:        c.cfg.TempLocation,
				ServiceAccountEmail: c.cfg.ServiceAccount,
				SDKContainerImage:   spec.WorkerSDKImage,
			},
		},
	}

	var response launchResponse
	path := fmt.Sprintf("/v1b3/projects/%s/locations/%s/flexTemplates:launch", c.cfg.ProjectID, c.cfg.Region)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &response); err != nil {
		return nil, err
	}
	if response.Job.ID == "" {
		return nil, fmt.Errorf("launch response missing job id")
	}
	return &response.Job, nil
}

// GetJob fetches the current state of a Dataflow job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("dataflow job id must be set")
	}
	var job Job
	path := fmt.Sprintf("/v1b3/projects/%s/locations/%s/jobs/%s", c.cfg.ProjectID, c.cfg.Region, jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob requests cancellation of a running Dataflow job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("dataflow job id must be set")
	}
	body := map[string]string{"requestedState": "JOB_STATE_CANCELLED"}
	path := fmt.Sprintf("/v1b3/projects/%s/locations/%s/jobs/%s", c.cfg.ProjectID, c.cfg.Region, jobID)
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

// MonitoringURL returns the console page for a job, for operator logs.
func (c *Client) MonitoringURL(jobID string) string {
	return fmt.Sprintf("https://console.cloud.google.com/dataflow/jobs/%s/%s?project=%s", c.cfg.Region, jobID, c.cfg.ProjectID)
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
