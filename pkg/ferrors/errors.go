// Package ferrors provides the HTTP-boundary error type. It re-maps
// the domain layer's six abstract error kinds onto concrete status codes, the
// same way the teacher's pkg/errors mapped its own error taxonomy.
package ferrors

import (
	"errors"
	"fmt"
	"net/http"

	"brokle/internal/core/domain/fat"
)

type AppErrorType string

const (
	ValidationError      AppErrorType = "VALIDATION_ERROR"
	NotFoundError        AppErrorType = "NOT_FOUND_ERROR"
	StateTransitionError AppErrorType = "STATE_TRANSITION_ERROR"
	PersistenceError     AppErrorType = "PERSISTENCE_ERROR"
	PlcError             AppErrorType = "PLC_ERROR"
	CancelledError       AppErrorType = "CANCELLED_ERROR"
	InternalError        AppErrorType = "INTERNAL_ERROR"
)

type AppError struct {
	Err        error        `json:"-"`
	Type       AppErrorType `json:"type"`
	Message    string       `json:"message"`
	Details    string       `json:"details,omitempty"`
	StatusCode int          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(errorType AppErrorType, message, details string, err error) *AppError {
	appErr := &AppError{Type: errorType, Message: message, Details: details, Err: err}

	switch errorType {
	case ValidationError:
		appErr.StatusCode = http.StatusBadRequest
	case NotFoundError:
		appErr.StatusCode = http.StatusNotFound
	case StateTransitionError:
		appErr.StatusCode = http.StatusConflict
	case PersistenceError:
		appErr.StatusCode = http.StatusInternalServerError
	case PlcError:
		appErr.StatusCode = http.StatusBadGateway
	case CancelledError:
		appErr.StatusCode = http.StatusConflict
	default:
		appErr.StatusCode = http.StatusInternalServerError
	}

	return appErr
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func GetStatusCode(err error) int {
	if appErr, ok := IsAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func GetErrorType(err error) AppErrorType {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type
	}
	return InternalError
}

func IsNotFound(err error) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type == NotFoundError
	}
	return false
}

// FromDomainError adapts a fat.DomainError (or any error) into an *AppError
// for the HTTP transport layer, the single translation point named in
// the domain error taxonomy.
func FromDomainError(err error) *AppError {
	if err == nil {
		return nil
	}

	var de *fat.DomainError
	if !errors.As(err, &de) {
		return NewAppError(InternalError, err.Error(), "", err)
	}

	switch de.Code {
	case fat.ErrCodeValidation:
		return NewAppError(ValidationError, de.Message, "", de)
	case fat.ErrCodeNotFound:
		return NewAppError(NotFoundError, de.Message, "", de)
	case fat.ErrCodeStateTransition:
		return NewAppError(StateTransitionError, de.Message, "", de)
	case fat.ErrCodePersistence:
		return NewAppError(PersistenceError, de.Message, "", de)
	case fat.ErrCodePlc:
		return NewAppError(PlcError, de.Message, "", de)
	case fat.ErrCodeCancelled:
		return NewAppError(CancelledError, de.Message, "", de)
	default:
		return NewAppError(InternalError, de.Message, "", de)
	}
}
