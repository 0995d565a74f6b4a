package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorCode classifies a failure for routing and reporting.
type ErrorCode string

const (
	// CodeMessageDecode: an inbound payload could not be parsed or
	// validated against the message schema.
	CodeMessageDecode ErrorCode = "MESSAGE_DECODE"
	// CodeInvalidEntity: the requested person failed entity validation.
	CodeInvalidEntity ErrorCode = "INVALID_ENTITY"
	// CodeTransientExternal: an upstream source failed in a way worth
	// retrying (timeouts, 5xx, rate limiting).
	CodeTransientExternal ErrorCode = "TRANSIENT_EXTERNAL"
	// CodePermanentExternal: an upstream source rejected the request in
	// a way retries cannot fix (4xx, malformed payloads).
	CodePermanentExternal ErrorCode = "PERMANENT_EXTERNAL"
	// CodeReferenceValidation: a converted reference failed invariant
	// checks before persistence.
	CodeReferenceValidation ErrorCode = "REFERENCE_VALIDATION"
	// CodeDBConnection: database connectivity or statement failure.
	CodeDBConnection ErrorCode = "DB_CONNECTION"
	// CodeBrokerChannel: AMQP channel or connection failure.
	CodeBrokerChannel ErrorCode = "BROKER_CHANNEL"
	// CodeUnexpected: anything not classified above.
	CodeUnexpected ErrorCode = "UNEXPECTED"
)

// CodedError is the contract error consumers use to branch on failure
// class without type-asserting concrete structs.
type CodedError interface {
	error
	CodeValue() ErrorCode
	RetryableStatus() bool
}

// Error is the canonical wrapped failure flowing through retrieval
// pipelines. Retryable marks whether replaying the same input may
// succeed.
type Error struct {
	Code      ErrorCode
	Retryable bool
	Err       error
}

var _ CodedError = (*Error)(nil)

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue returns the classification code.
func (e *Error) CodeValue() ErrorCode { return e.Code }

// RetryableStatus reports whether the failure is worth retrying.
func (e *Error) RetryableStatus() bool { return e.Retryable }

// WrapError builds a classified error around err.
func WrapError(code ErrorCode, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(code ErrorCode, retryable bool, format string, args ...any) *Error {
	return &Error{Code: code, Retryable: retryable, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the classification of err, or CodeUnexpected when
// err carries none.
func CodeOf(err error) ErrorCode {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.CodeValue()
	}
	return CodeUnexpected
}

// IsRetryable reports whether err is classified as retryable.
// Unclassified errors are not retryable.
func IsRetryable(err error) bool {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.RetryableStatus()
	}
	return false
}
