package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the categories clients react to.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindPolicy     Kind = "POLICY"
	KindConflict   Kind = "CONFLICT"
	KindNotFound   Kind = "NOT_FOUND"
	KindAccess     Kind = "ACCESS"
	KindDependency Kind = "DEPENDENCY"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Kind    Kind        `json:"kind"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so cloned errors still compare equal to their template.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message}
}

// NewKind creates an Error with an explicit kind.
func NewKind(code string, kind Kind, status int, message string) *Error {
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Kind: kindForStatus(status), Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Enrollment ledger, assignment lifecycle and attendance policy errors.
var (
	ErrAlreadyFinalized     = NewKind("ALREADY_FINALIZED", KindPolicy, http.StatusConflict, "selection already finalized")
	ErrCapacityExceeded     = NewKind("CAPACITY_EXCEEDED", KindPolicy, http.StatusConflict, "maximum number of activities reached")
	ErrScheduleConflict     = NewKind("SCHEDULE_CONFLICT", KindPolicy, http.StatusConflict, "activity schedule conflicts with an existing selection")
	ErrNoSelection          = NewKind("NO_SELECTION", KindPolicy, http.StatusUnprocessableEntity, "select at least one activity before finalizing")
	ErrPastDue              = NewKind("PAST_DUE", KindPolicy, http.StatusUnprocessableEntity, "assignment is past due")
	ErrDuplicateFormForDate = NewKind("DUPLICATE_FORM_FOR_DATE", KindPolicy, http.StatusConflict, "attendance form already exists for this date")
	ErrWindowClosed         = NewKind("WINDOW_CLOSED", KindPolicy, http.StatusUnprocessableEntity, "attendance window is not open")
	ErrDuplicateSelection   = NewKind("DUPLICATE_SELECTION", KindConflict, http.StatusConflict, "activity already selected")
	ErrDuplicateSubmission  = NewKind("DUPLICATE_SUBMISSION", KindConflict, http.StatusConflict, "attendance already submitted")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of the error carrying structured details for the client.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

// Internal wraps a collaborator failure as a dependency error.
func Internal(err error, message string) *Error {
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, message)
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAccess
	case status == http.StatusConflict:
		return KindConflict
	case status >= http.StatusInternalServerError:
		return KindDependency
	default:
		return KindPolicy
	}
}
