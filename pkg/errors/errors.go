package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrTooManyRequests    = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// Enrollment errors.
var (
	ErrInvalidCode       = New("INVALID_CODE", http.StatusNotFound, "registration code not recognized")
	ErrCorruptState      = New("CORRUPT_STATE", http.StatusInternalServerError, "registration code has unrecognized status")
	ErrIdentityExhausted = New("IDENTITY_EXHAUSTED", http.StatusInternalServerError, "participant id generation exhausted retries")
	ErrTransient         = New("TRANSIENT_FAILURE", http.StatusServiceUnavailable, "store contention, retry the request")
)

// Session scheduling errors.
var (
	ErrAlreadyStarted    = New("SESSION_ALREADY_STARTED", http.StatusConflict, "session already started")
	ErrBackwardSession   = New("SESSION_OUT_OF_ORDER", http.StatusConflict, "session does not match participant progress")
	ErrSessionNotStarted = New("SESSION_NOT_STARTED", http.StatusPreconditionFailed, "session was never started")
	ErrSessionCompleted  = New("SESSION_ALREADY_COMPLETED", http.StatusConflict, "session already completed")
	ErrStudyComplete     = New("STUDY_COMPLETE", http.StatusConflict, "participant has completed all sessions")
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
