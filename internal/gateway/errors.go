package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ericksa/lexiclarus/internal/apperr"
)

// Kind tags why an invocation failed.
type Kind string

const (
	KindTransientExhausted Kind = "transient_exhausted"
	KindNonTransient       Kind = "non_transient"
	KindInvalidResponse    Kind = "invalid_response"
)

var (
	ErrInvalidResponse = errors.New("invalid model response")
	ErrNoBackend       = errors.New("no backend configured for capability")
	ErrTimeout         = errors.New("model call timed out")
)

// Error is the only error type Invoke returns.
type Error struct {
	Kind       Kind
	Capability Capability
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s %s after %d attempt(s): %v", e.Capability, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Code() apperr.Code {
	switch e.Kind {
	case KindTransientExhausted:
		return apperr.CodeGatewayTransientExhausted
	case KindInvalidResponse:
		return apperr.CodeGatewayInvalidResponse
	default:
		return apperr.CodeGatewayNonTransient
	}
}

// KindOf returns the failure kind carried by err, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// StatusError is returned by HTTP backends for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint returned %d: %s", e.StatusCode, e.Body)
}

func invalidResponse(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, fmt.Sprintf(format, args...))
}

// transient reports whether a failed call is worth retrying.
func transient(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode == http.StatusTooEarly,
			se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode >= 500:
			return true
		}
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidResponse):
		return KindInvalidResponse
	case transient(err):
		return KindTransientExhausted
	default:
		return KindNonTransient
	}
}
