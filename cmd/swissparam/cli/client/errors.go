package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// NetworkError means the service could not be reached or the exchange was
// cut short. Callers may retry it.
type NetworkError struct {
	Op  string
	URL string
	// Dial is true when the connection was never established, so the
	// request cannot have reached the service.
	Dial bool
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError means the service answered but rejected the request. It is
// never retried.
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: server rejected request: %s", e.Op, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("%s: server returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: server returned HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNetworkError reports whether err is (or wraps) a *NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsDialError reports whether err is a NetworkError raised before the
// connection was established.
func IsDialError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr) && netErr.Dial
}

func newNetworkError(op, url string, err error) *NetworkError {
	return &NetworkError{Op: op, URL: url, Dial: isDial(err), Err: err}
}

func isDial(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

const maxMessageLen = 512

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxMessageLen {
		s = s[:maxMessageLen] + "..."
	}
	return s
}
