package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// The three error categories drive three different retry policies: a
// ServerError is never retried, ConnError and TimeoutError are retried with
// a delay by callers that own a retry loop.

// ServerError is a structured 4xx/5xx rejection from the backend. It carries
// the server-provided error code and human-readable description.
type ServerError struct {
	Status      int
	ErrorCode   string
	Description string
	URL         string
}

func (e *ServerError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("server rejected request (%d %s): %s", e.Status, e.ErrorCode, e.Description)
	}
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.ErrorCode)
}

// TimeoutError reports a request that exceeded the configured request
// timeout. Distinct from ConnError so callers can tell "server slow" from
// "server unreachable".
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

// ConnError reports a transport-level failure: connection refused, DNS
// failure, reset, and similar.
type ConnError struct {
	URL string
	Err error
}

func (e *ConnError) Error() string { return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err) }
func (e *ConnError) Unwrap() error { return e.Err }

// IsServerError reports whether err is a structured server rejection.
func IsServerError(err error) bool {
	var se *ServerError
	return errors.As(err, &se)
}

// IsUnauthorized reports whether err is a 401 rejection.
func IsUnauthorized(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

// classifyTransportError wraps a round-trip failure as a TimeoutError or
// ConnError.
func classifyTransportError(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{URL: url, Err: err}
	}
	return &ConnError{URL: url, Err: err}
}
