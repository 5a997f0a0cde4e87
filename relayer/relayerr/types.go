// Package relayerr defines the relay node's error taxonomy and the
// retry-with-backoff helper used for destination chain calls.
package relayerr

import (
	"errors"
	"fmt"
)

// Code categorizes relay errors.
type Code string

const (
	// CodeDuplicate indicates an event at or below the stored cursor position.
	CodeDuplicate Code = "DUPLICATE_DELIVERY"

	// CodeOrphan indicates a finalization event with no matching pending transaction.
	CodeOrphan Code = "ORPHAN_FINALIZATION"

	// CodePartialBatch indicates a failure during batch sealing; the whole
	// sealing attempt is rolled back.
	CodePartialBatch Code = "PARTIAL_BATCH"

	// CodeSubmission indicates a transient destination-chain submission failure.
	CodeSubmission Code = "SUBMISSION"

	// CodeExhausted indicates the submission retry ceiling was reached.
	CodeExhausted Code = "SUBMISSION_EXHAUSTED"

	// CodeConfig indicates missing or invalid startup configuration.
	CodeConfig Code = "CONFIG"

	// CodeDatabase indicates a durable-store operation failure.
	CodeDatabase Code = "DATABASE"

	// CodeValidation indicates malformed input from a collaborator.
	CodeValidation Code = "VALIDATION"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL"
)

// RelayError is an error with a taxonomy code and optional structured context.
type RelayError struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// New creates a RelayError without a cause.
func New(code Code, message string) *RelayError {
	return &RelayError{Code: code, Message: message}
}

// Wrap creates a RelayError wrapping a cause.
func Wrap(err error, code Code, message string) *RelayError {
	if err == nil {
		return nil
	}
	return &RelayError{Code: code, Message: message, Cause: err}
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair to the error.
func (e *RelayError) WithContext(key string, value interface{}) *RelayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether the error is worth retrying.
// Only transient submission failures qualify; integrity and configuration
// errors never do.
func (e *RelayError) Retryable() bool {
	return e.Code == CodeSubmission
}

// HasCode reports whether err is a RelayError with the given code.
func HasCode(err error, code Code) bool {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Code == code
	}
	return false
}

// IsRetryable reports whether err should be retried. Errors outside the
// taxonomy are treated as transient so that collaborator clients returning
// plain errors still get the backoff path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr.Retryable()
	}
	return true
}
