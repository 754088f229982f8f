package domain

import (
	"errors"
	"fmt"
	"time"
)

// AuthenticationError means the provider rejected our credentials.
// Not retryable; the connection needs user re-auth.
type AuthenticationError struct {
	Provider ProviderKind
	Reason   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Reason)
}

// RateLimitError means the provider (or our own client-side limiter)
// refused the call. Retryable after RetryAfter.
type RateLimitError struct {
	Provider   ProviderKind
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// ConnectionError is the generic retryable failure: network trouble,
// non-2xx responses, malformed payloads. Any unexpected failure inside
// a provider call is wrapped into one of these rather than escaping raw.
type ConnectionError struct {
	Provider ProviderKind
	Op       string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WrapConnection normalizes err into a ConnectionError unless it is
// already one of the taxonomy types.
func WrapConnection(provider ProviderKind, op string, err error) error {
	if err == nil {
		return nil
	}
	var authErr *AuthenticationError
	var rateErr *RateLimitError
	var connErr *ConnectionError
	if errors.As(err, &authErr) || errors.As(err, &rateErr) || errors.As(err, &connErr) {
		return err
	}
	return &ConnectionError{Provider: provider, Op: op, Err: err}
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var authErr *AuthenticationError
	return err != nil && !errors.As(err, &authErr)
}

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInvalid marks input rejected by a validation check.
var ErrInvalid = errors.New("invalid input")
