package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any DomainError carrying the same code, so callers can test
// against the sentinels below with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrLocked            = domainError(http.StatusLocked, "LOCKED", "Document is locked", nil)
	ErrAlreadyLocked     = domainError(http.StatusConflict, "ALREADY_LOCKED", "Document is already under review", nil)
	ErrStaleVersion      = domainError(http.StatusConflict, "STALE_VERSION", "Document changed since base version", nil)
	ErrInvalidState      = domainError(http.StatusConflict, "INVALID_STATE", "Operation not allowed in current document state", nil)
	ErrInvalidTransition = domainError(http.StatusConflict, "INVALID_TRANSITION", "Task transition not allowed", nil)
	ErrUnauthorized      = domainError(http.StatusForbidden, "UNAUTHORIZED", "Actor lacks the required role", nil)
	ErrForbidden         = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	ErrWrongStage        = domainError(http.StatusConflict, "WRONG_STAGE", "Review is not at that stage", nil)
	ErrNotPending        = domainError(http.StatusConflict, "NOT_PENDING", "Review stage already decided", nil)
	ErrOutOfRange        = domainError(http.StatusUnprocessableEntity, "OUT_OF_RANGE", "Progress must be between 0 and 100", nil)
	ErrValidation        = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", nil)
	ErrNotFound          = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	ErrBusy              = domainError(http.StatusServiceUnavailable, "BUSY", "Entity is busy, retry later", nil)
	ErrConsistency       = domainError(http.StatusInternalServerError, "CONSISTENCY_VIOLATION", "Workflow state is inconsistent", nil)
)

// with returns a copy of the sentinel carrying a specific message and details.
func (e *DomainError) with(message string, details any) *DomainError {
	if message == "" {
		message = e.Message
	}
	return domainError(e.Status, e.Code, message, details)
}
