package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimitExceeded means 429 responses outlasted the retry budget.
	ErrRateLimitExceeded = errors.New("upstream: rate limit retries exhausted")
	// ErrUpstreamUnavailable means 503 responses outlasted the retry budget.
	ErrUpstreamUnavailable = errors.New("upstream: service unavailable retries exhausted")
	// ErrUpstreamRequest is an unexpected, non-retryable HTTP status.
	ErrUpstreamRequest = errors.New("upstream: request failed")
)

// maxErrorBody caps how much of a response body is kept for diagnostics.
const maxErrorBody = 4 << 10

// StatusError carries the HTTP status and body of a failed upstream call.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	kind       error
}

// NewStatusError builds a StatusError classified as ErrUpstreamRequest.
func NewStatusError(method, url string, status int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{
		Method:     method,
		URL:        url,
		StatusCode: status,
		Body:       string(body),
		kind:       ErrUpstreamRequest,
	}
}

// WithKind reclassifies the error so errors.Is matches kind.
func (e *StatusError) WithKind(kind error) *StatusError {
	cp := *e
	cp.kind = kind
	return &cp
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s %s returned %d: %s", e.kind, e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
