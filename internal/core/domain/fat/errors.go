package fat

import (
	"errors"
	"fmt"
)

// Error codes classify DomainError instances. Names mirror the
// abstract error kinds (Validation/NotFound/StateTransition/Persistence/
// Plc/Cancelled).
const (
	ErrCodeValidation      = "VALIDATION"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeStateTransition = "STATE_TRANSITION"
	ErrCodePersistence     = "PERSISTENCE"
	ErrCodePlc             = "PLC"
	ErrCodeCancelled       = "CANCELLED"
)

// DomainError is the rich error type used internally by the three core
// services. Details carries structured context (instance id, sub-test name,
// offending field) for logging without string-parsing the message.
type DomainError struct {
	Code    string
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

// WithDetail returns e with detail key=value attached, for chained
// construction at the call site.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newDomainError(code, message string, cause error) *DomainError {
	return &DomainError{Code: code, Message: message, Cause: cause}
}

func NewValidationError(message string) *DomainError {
	return newDomainError(ErrCodeValidation, message, nil)
}

func NewNotFoundError(resource, id string) *DomainError {
	return newDomainError(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil)
}

func NewStateTransitionError(message string) *DomainError {
	return newDomainError(ErrCodeStateTransition, message, nil)
}

func NewPersistenceError(message string, cause error) *DomainError {
	return newDomainError(ErrCodePersistence, message, cause)
}

func NewPlcError(kind PlcErrorKind, message string, cause error) *DomainError {
	return newDomainError(ErrCodePlc, message, cause).WithDetail("plc_error_kind", kind)
}

func NewCancelledError(message string) *DomainError {
	return newDomainError(ErrCodeCancelled, message, nil)
}

func isCode(err error, code string) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

func IsNotFoundError(err error) bool        { return isCode(err, ErrCodeNotFound) }
func IsValidationError(err error) bool      { return isCode(err, ErrCodeValidation) }
func IsStateTransitionError(err error) bool { return isCode(err, ErrCodeStateTransition) }
func IsPersistenceError(err error) bool     { return isCode(err, ErrCodePersistence) }
func IsPlcError(err error) bool             { return isCode(err, ErrCodePlc) }
func IsCancelledError(err error) bool       { return isCode(err, ErrCodeCancelled) }
