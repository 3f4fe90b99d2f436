package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class surfaced to callers.
type Code string

const (
	CodeExtractionFailed          Code = "extraction_failed"
	CodeSegmentationFailed        Code = "segmentation_failed"
	CodeGatewayTransientExhausted Code = "gateway_transient_exhausted"
	CodeGatewayNonTransient       Code = "gateway_non_transient"
	CodeGatewayInvalidResponse    Code = "gateway_invalid_response"
	CodeStageDegraded             Code = "stage_degraded"
	CodeUnsupportedDocument       Code = "unsupported_document"
	CodeNotFound                  Code = "not_found"
	CodeNotReady                  Code = "not_ready"
	CodeInvalidInput              Code = "invalid_input"
	CodeInternal                  Code = "internal"
)

// Fatal reports whether a failure with this code ends a session.
func (c Code) Fatal() bool {
	return c == CodeExtractionFailed || c == CodeSegmentationFailed
}

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// coder is satisfied by error types that carry their own code.
type coder interface {
	Code() Code
}

// CodeOf returns the code of the first coded error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
