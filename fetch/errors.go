package fetch

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned without any network attempt while the breaker
// is open.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open until %s", e.RetryAt.Format(time.RFC3339))
}

// TransportError wraps a network-level failure (timeout, reset, bad status).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidContentError means the upstream answered but the body is too short
// to be a real page (error page, empty shell).
type InvalidContentError struct {
	URL    string
	Length int
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid content for %s: %d bytes", e.URL, e.Length)
}
