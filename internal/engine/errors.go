package engine

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every Session operation after Close.
var ErrClosed = errors.New("engine: session closed")

// SessionError reports a session-level failure that is not tied to a single
// mutation: a failed refresh, an unusable identity, a broken warm start.
type SessionError struct {
	// Code identifies the error category.
	Code SessionErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// SessionErrorCode categorizes session errors.
type SessionErrorCode string

const (
	// ErrCodeFetchFailed indicates the remote collection fetch failed.
	ErrCodeFetchFailed SessionErrorCode = "FETCH_FAILED"

	// ErrCodeInvalidIdentity indicates the identity cannot scope a cache.
	ErrCodeInvalidIdentity SessionErrorCode = "INVALID_IDENTITY"

	// ErrCodeStaleIdentity indicates a fetch finished after the identity
	// changed; its result was discarded.
	ErrCodeStaleIdentity SessionErrorCode = "STALE_IDENTITY"
)

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsFetchFailed returns true if err is a failed refresh fetch.
func IsFetchFailed(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeFetchFailed
	}
	return false
}

// IsStaleIdentity returns true if err reports a discarded refresh.
func IsStaleIdentity(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeStaleIdentity
	}
	return false
}

// IsInvalidIdentity returns true if err reports an unusable identity.
func IsInvalidIdentity(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Code == ErrCodeInvalidIdentity
	}
	return false
}
