package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates that no caller identity could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrNotFound indicates that a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates that the caller lacks the required capability.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream indicates that an external collaborator failed.
	ErrUpstream = errors.New("upstream error")
	// ErrUnavailable indicates that an optional collaborator is not configured.
	ErrUnavailable = errors.New("unavailable")
)

// ServiceError carries a dotted operation.reason code together with the error kind and its cause.
type ServiceError struct {
	code   string
	reason string
	kind   error
	err    error
}

// New builds a ServiceError for the given operation and reason.
// kind should be one of the package sentinels; cause may be nil.
func New(operation, reason string, kind, cause error) error {
	return &ServiceError{
		code:   fmt.Sprintf("%s.%s", operation, reason),
		reason: reason,
		kind:   kind,
		err:    cause,
	}
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *ServiceError) Unwrap() []error {
	wrapped := make([]error, 0, 2)
	if e.kind != nil {
		wrapped = append(wrapped, e.kind)
	}
	if e.err != nil {
		wrapped = append(wrapped, e.err)
	}
	return wrapped
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

// Reason returns the short reason suffix of the code.
func (e *ServiceError) Reason() string {
	return e.reason
}

// Kind returns the taxonomy sentinel.
func (e *ServiceError) Kind() error {
	return e.kind
}

// CodeOf returns the service error code carried by err, if any.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}

// ReasonOf returns the service error reason carried by err, if any.
func ReasonOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Reason()
	}
	return ""
}
