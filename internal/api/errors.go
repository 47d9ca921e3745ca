package api

import (
	"fmt"
	"time"
)

// RateLimitError indicates the remote asked us to back off. Retryable
// after RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
	ResetTime  time.Time
}

func (e *RateLimitError) Error() string {
	if !e.ResetTime.IsZero() {
		return fmt.Sprintf("rate limited until %s", e.ResetTime.Format(time.RFC3339))
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AuthError indicates the remote rejected our credentials or refused
// access. Not retryable.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication or access failure (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// MalformedError indicates a page that could not be decoded. Next
// carries the continuation cursor when the pagination metadata
// survived, letting the caller drop the page and keep going.
type MalformedError struct {
	Next string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }
