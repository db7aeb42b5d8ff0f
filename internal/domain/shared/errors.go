package shared

import "errors"

// ErrorKind classifies a domain error for callers that need to decide how to
// react (HTTP status, retry, log level) without matching on codes.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindAuthorization    ErrorKind = "authorization"
	KindNotFound         ErrorKind = "not_found"
	KindStateConflict    ErrorKind = "state_conflict"
	KindTransientGateway ErrorKind = "transient_gateway"
	KindPermanentGateway ErrorKind = "permanent_gateway"
	KindIntegrity        ErrorKind = "integrity"
	KindInternal         ErrorKind = "internal"
)

// DomainError represents a domain-level error
type DomainError struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code.
// Sentinel errors keep matching after WithCause/WithMessage copies.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithCause returns a copy of the error wrapping cause
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of the error with a more specific message
func (e *DomainError) WithMessage(message string) *DomainError {
	cp := *e
	cp.Message = message
	return &cp
}

// NewDomainError creates a new domain error of the given kind
func NewDomainError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

func NewValidationError(code, message string) *DomainError {
	return NewDomainError(KindValidation, code, message)
}

func NewAuthorizationError(code, message string) *DomainError {
	return NewDomainError(KindAuthorization, code, message)
}

func NewNotFoundError(code, message string) *DomainError {
	return NewDomainError(KindNotFound, code, message)
}

func NewStateConflictError(code, message string) *DomainError {
	return NewDomainError(KindStateConflict, code, message)
}

func NewIntegrityError(code, message string) *DomainError {
	return NewDomainError(KindIntegrity, code, message)
}

// KindOf returns the kind of the first DomainError in err's chain,
// or KindInternal when there is none.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) && de.Kind != "" {
		return de.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first DomainError in err's chain,
// or INTERNAL_ERROR when there is none.
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return "INTERNAL_ERROR"
}

// Common domain errors
var (
	ErrNotFound            = NewNotFoundError("NOT_FOUND", "Resource not found")
	ErrInvalidInput        = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrConcurrencyConflict = NewStateConflictError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrForbidden           = NewAuthorizationError("FORBIDDEN", "Access to this resource is forbidden")
	ErrInvalidState        = NewStateConflictError("INVALID_STATE", "Operation not allowed in current state")
)
