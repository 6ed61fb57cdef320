package http

import (
	"fmt"
	"net/http"
	"time"

	"clipsync/clip"
)

// RateLimitError indicates the server rate limited the request.
type RateLimitError struct {
	// StatusCode is the HTTP status code (429 or 503).
	StatusCode int
	// RetryAfter indicates how long to wait before retrying.
	RetryAfter time.Duration
}

// Error returns a string representation of the rate limit error.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// RetryDelay lets retry.Do wait out the server's pause.
func (e *RateLimitError) RetryDelay() time.Duration { return e.RetryAfter }

// Unwrap classifies rate limiting as transient.
func (e *RateLimitError) Unwrap() error { return clip.ErrTransient }

// HTTPError indicates a non-2xx response.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int
	// Body is the response body.
	Body []byte
}

// Error returns a string representation of the HTTP error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error: status %d", e.StatusCode)
}

// Unwrap maps the status onto a failure class: auth failures are fatal,
// other client errors are rejections and everything else is transient.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return clip.ErrFatal
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return clip.ErrTransient
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return clip.ErrRejected
	default:
		return clip.ErrTransient
	}
}

// Sentinel errors for HTTP operations.
var (
	// ErrNoResponse indicates no response was received from the server.
	ErrNoResponse = fmt.Errorf("no response received: %w", clip.ErrTransient)
)

// IsTransientHTTPError reports whether err should count toward a host's
// circuit breaker. Client errors say nothing about the host's health.
func IsTransientHTTPError(err error) bool {
	if err == nil {
		return false
	}
	return clip.Classify(err) == clip.OutcomeTransient
}
