// Package llmclient provides a base HTTP client for provider adapters with
// request marshaling, opt-in retries with exponential backoff, circuit
// breaking, and standardized upstream error classification.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"modelgate/internal/core"
	"modelgate/internal/httpclient"
)

// Config holds configuration for the LLM client.
type Config struct {
	// ProviderName identifies the provider in error messages.
	ProviderName string

	// BaseURL is the API base URL.
	BaseURL string

	MaxRetries     int           // retry attempts beyond the first try (default: 0)
	InitialBackoff time.Duration // initial backoff duration (default: 1s)
	MaxBackoff     time.Duration // maximum backoff duration (default: 30s)
	BackoffFactor  float64       // backoff multiplier (default: 2.0)

	CircuitBreaker *CircuitBreakerConfig
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultConfig returns default client configuration. Retries are off:
// upstream failures surface immediately with the retryable flag set, and
// retry policy stays with the caller.
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		CircuitBreaker: &CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
	}
}

// HeaderSetter is a function that sets headers on an HTTP request. Adapters
// use it to inject per-request credentials.
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for provider adapters.
type Client struct {
	httpClient     *http.Client
	config         Config
	circuitBreaker *circuitBreaker
}

// New creates a new LLM client with the given configuration.
func New(config Config) *Client {
	return NewWithHTTPClient(httpclient.NewDefault(), config)
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client.
// If httpClient is nil, a default client is used.
func NewWithHTTPClient(httpClient *http.Client, config Config) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefault()
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = 2.0
	}

	c := &Client{
		httpClient: httpClient,
		config:     config,
	}
	if config.CircuitBreaker != nil {
		c.circuitBreaker = newCircuitBreaker(
			config.CircuitBreaker.FailureThreshold,
			config.CircuitBreaker.SuccessThreshold,
			config.CircuitBreaker.Timeout,
		)
	}
	return c
}

// SetBaseURL updates the base URL.
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request represents an HTTP request to be made.
type Request struct {
	Method   string
	Endpoint string
	Body     any // JSON-marshaled if not nil
	Headers  HeaderSetter
}

// Response represents an HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do executes a request under the circuit breaker, then unmarshals the
// response into result.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewProviderError(c.config.ProviderName, "failed to unmarshal response: "+err.Error(), err)
		}
	}
	return nil
}

// DoRaw executes a request under the circuit breaker and returns the raw
// response. Retries are opt-in: with MaxRetries zero every failure surfaces
// immediately and the retryable flag on the error tells the caller whether
// trying again makes sense. When retries are configured, only transport
// errors and retry-worthy statuses are attempted again.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, core.NewRetryableError(c.config.ProviderName,
			"circuit breaker is open: provider temporarily unavailable", http.StatusServiceUnavailable)
	}

	var lastErr error
	maxAttempts := c.config.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		resp, err := c.doRequest(ctx, req)
		if err != nil {
			lastErr = err
			c.recordFailure()
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			perr := core.ClassifyUpstream(c.config.ProviderName, resp.StatusCode, resp.Body, nil)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				c.recordFailure()
			}
			if !core.IsRetryable(perr) {
				return nil, perr
			}
			lastErr = perr
			continue
		}

		c.recordSuccess()
		return resp, nil
	}

	return nil, lastErr
}

// DoStream executes a streaming request, returning the raw body.
// Streaming requests do not retry: partial data may already have been sent.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		return nil, core.NewRetryableError(c.config.ProviderName,
			"circuit breaker is open: provider temporarily unavailable", http.StatusServiceUnavailable)
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, core.ClassifyTransport(c.config.ProviderName, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.recordFailure()
		}
		return nil, core.ClassifyUpstream(c.config.ProviderName, resp.StatusCode, respBody, nil)
	}

	c.recordSuccess()
	return resp.Body, nil
}

func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.ClassifyTransport(c.config.ProviderName, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ClassifyTransport(c.config.ProviderName, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewProviderError(c.config.ProviderName, "failed to marshal request: "+err.Error(), err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, "failed to create request: "+err.Error(), err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Headers != nil {
		req.Headers(httpReq)
	}
	return httpReq, nil
}

func (c *Client) recordFailure() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.circuitBreaker != nil {
		c.circuitBreaker.RecordSuccess()
	}
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if backoff > float64(c.config.MaxBackoff) {
		backoff = float64(c.config.MaxBackoff)
	}
	return time.Duration(backoff)
}
