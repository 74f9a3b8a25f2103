package client

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrWriteOutcomeUnknown is returned when a write failed at the transport
	// level, so the upstream may or may not have applied it.
	ErrWriteOutcomeUnknown = errors.New("write outcome unknown")
)

// ThrottledError reports a call that was still throttled after the last
// allowed attempt.
type ThrottledError struct {
	Method     string
	URL        string
	Attempts   int
	StatusCode int
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	return fmt.Sprintf("remote throttled: %s %s still rate limited after %d attempts (status %d)",
		e.Method, e.URL, e.Attempts, e.StatusCode)
}

// Is makes errors.Is(err, ErrRetryExhausted) hold for throttled calls.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// RejectedError reports a non-2xx response that is not throttling.
// These are never retried.
type RejectedError struct {
	Method     string
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Body       string
}

// maxErrorBody bounds how much of a response body is kept on RejectedError.
const maxErrorBody = 512

// Error implements the error interface.
func (e *RejectedError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "..."
	}
	if body == "" {
		return fmt.Sprintf("remote rejected %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("remote rejected %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// attemptError is the outcome of a single failed attempt, carrying what the
// retry loop needs to decide on the next one.
type attemptError struct {
	class      ErrorClass
	statusCode int
	retryAfter time.Duration
	err        error
}

func (e *attemptError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s error (status %d): %v", e.class, e.statusCode, e.err)
	}
	return fmt.Sprintf("%s error (status %d)", e.class, e.statusCode)
}

func (e *attemptError) Unwrap() error {
	return e.err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		// 4xx and 5xx are rejected outright: retrying a malformed request
		// does not fix it.
		return false
	}
}
