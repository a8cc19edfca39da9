package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the matching service. Callers test with errors.Is.
var (
	ErrResourceCreationFailed = errors.New("compute resource creation failed")
	ErrRequestTimeout         = errors.New("fingerprint request timed out")
	ErrTransportFailure       = errors.New("compute resource unreachable")
	ErrMalformedResponse      = errors.New("malformed compute response")
	ErrStoreUnavailable       = errors.New("persistent store unavailable")
)

// ComputeError pairs an error kind with the underlying reason.
type ComputeError struct {
	Kind   error
	Reason string
}

// NewComputeError builds a ComputeError from a kind and an optional cause.
func NewComputeError(kind error, cause error) *ComputeError {
	e := &ComputeError{Kind: kind}
	if cause != nil {
		e.Reason = cause.Error()
	}
	return e
}

func (e *ComputeError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *ComputeError) Unwrap() error { return e.Kind }

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResourceCreationFailed):
		return "resource_creation_failed"
	case errors.Is(err, ErrRequestTimeout):
		return "request_timeout"
	case errors.Is(err, ErrTransportFailure):
		return "transport_failure"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "other"
	}
}
