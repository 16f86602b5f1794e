package mutation

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes mutation failures.
type ErrorCode string

const (
	// ErrCodeNetworkFailure indicates the remote call failed, timed out or
	// panicked. The pending change has been rolled back.
	ErrCodeNetworkFailure ErrorCode = "NETWORK_FAILURE"

	// ErrCodeInvalidMutation indicates the mutation was rejected before any
	// state changed (empty id, empty diff, nil remote call).
	ErrCodeInvalidMutation ErrorCode = "INVALID_MUTATION"
)

// Error is the typed failure surfaced to the caller of a mutation.
type Error struct {
	// Code identifies the failure category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EntityID identifies the mutated entity.
	EntityID string

	// OpID identifies the failed operation (empty for INVALID_MUTATION).
	OpID string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EntityID != "" {
		msg += fmt.Sprintf(" (entity=%s)", e.EntityID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNetworkFailure returns true if err is a NETWORK_FAILURE mutation error.
// Uses errors.As to handle wrapped errors.
func IsNetworkFailure(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == ErrCodeNetworkFailure
	}
	return false
}

// IsInvalidMutation returns true if err is an INVALID_MUTATION error.
func IsInvalidMutation(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == ErrCodeInvalidMutation
	}
	return false
}

// NewNetworkFailure creates a NETWORK_FAILURE error.
func NewNetworkFailure(entityID, opID string, cause error) *Error {
	return &Error{
		Code:     ErrCodeNetworkFailure,
		Message:  "remote call failed",
		EntityID: entityID,
		OpID:     opID,
		Err:      cause,
	}
}

// NewInvalidMutation creates an INVALID_MUTATION error.
func NewInvalidMutation(entityID, message string) *Error {
	return &Error{
		Code:     ErrCodeInvalidMutation,
		Message:  message,
		EntityID: entityID,
	}
}

// PanicError wraps a value recovered from a panicking remote call.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("remote call panicked: %v", e.Value)
}
