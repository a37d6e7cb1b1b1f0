package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ProviderError is the only error shape that crosses the adapter boundary.
// Nothing upstream-SDK-specific is visible past it. Retryable is true only
// for rate limits and 5xx-class upstream failures; authentication and
// content-policy rejections are never retryable.
type ProviderError struct {
	Provider   string `json:"provider"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	StatusCode int    `json:"status_code,omitempty"`
	// Original error for debugging, never serialized to clients.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s", e.Provider, e.Message)
	}
	return e.Message
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error onto a response status for the HTTP surface.
func (e *ProviderError) HTTPStatusCode() int {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return http.StatusUnauthorized
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return e.StatusCode
	case e.StatusCode >= 500:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

// NewProviderError creates a non-retryable provider error.
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// NewRetryableError creates a retryable provider error (rate limit or
// transient upstream failure).
func NewRetryableError(provider, message string, statusCode int) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Message:    message,
		Retryable:  true,
		StatusCode: statusCode,
	}
}

// NewConfigurationError reports a missing credential. Never retryable; the
// message names which credential is missing so the caller can act on it.
func NewConfigurationError(provider string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Message:  fmt.Sprintf("no credential configured for provider %q: store a user key or set the account-wide key", provider),
	}
}

// ClassifyUpstream turns an upstream HTTP failure into a ProviderError.
// 429 and 5xx are retryable; everything else, including 401/403 and
// content-policy rejections, is not. The body is probed for the common
// {"error":{"message":...}} envelope; otherwise it is used verbatim.
func ClassifyUpstream(provider string, statusCode int, body []byte, err error) *ProviderError {
	message := string(body)
	if m := gjson.GetBytes(body, "error.message"); m.Exists() && m.String() != "" {
		message = m.String()
	}
	if message == "" && err != nil {
		message = err.Error()
	}

	return &ProviderError{
		Provider:   provider,
		Message:    message,
		Retryable:  statusCode == http.StatusTooManyRequests || statusCode >= 500,
		StatusCode: statusCode,
		Err:        err,
	}
}

// ClassifyTransport wraps a network-level failure (no HTTP status available)
// as a retryable provider error.
func ClassifyTransport(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Message:   "request failed: " + err.Error(),
		Retryable: true,
		Err:       err,
	}
}

// AsProviderError extracts a *ProviderError from an error chain. When the
// chain carries none, the error is wrapped as a non-retryable failure
// attributed to the given provider so callers always see the fixed shape.
func AsProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewProviderError(provider, err.Error(), err)
}

// IsRetryable reports whether the error chain carries a retryable
// ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
