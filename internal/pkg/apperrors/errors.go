package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrTransientNetwork    ErrorType = "TRANSIENT_NETWORK"
	ErrTerminal            ErrorType = "TERMINAL"
	ErrLockTimeout         ErrorType = "LOCK_TIMEOUT"
	ErrTxDropped           ErrorType = "TX_DROPPED"
	ErrInvalidState        ErrorType = "INVALID_STATE"
	ErrInvalidRequest      ErrorType = "INVALID_REQUEST"
	ErrAuthFailed          ErrorType = "AUTH_FAILED"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any *AppError of the same Type, so callers can test against
// the sentinel values below with errors.Is.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

// Sentinels for errors.Is matching.
var (
	InsufficientBalance = &AppError{Type: ErrInsufficientBalance}
	TransientNetwork    = &AppError{Type: ErrTransientNetwork}
	Terminal            = &AppError{Type: ErrTerminal}
	LockTimeout         = &AppError{Type: ErrLockTimeout}
	TxDropped           = &AppError{Type: ErrTxDropped}
	InvalidState        = &AppError{Type: ErrInvalidState}
	InvalidRequest      = &AppError{Type: ErrInvalidRequest}
	NotFound            = &AppError{Type: ErrNotFound}
)

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInsufficientBalance(msg string) *AppError {
	return New(ErrInsufficientBalance, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewInvalidState(msg string) *AppError {
	return New(ErrInvalidState, msg, nil)
}

func NewTransient(msg string, cause error) *AppError {
	return New(ErrTransientNetwork, msg, cause)
}

func NewTerminal(msg string, cause error) *AppError {
	return New(ErrTerminal, msg, cause)
}

func NewLockTimeout(msg string, cause error) *AppError {
	return New(ErrLockTimeout, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err (or anything it wraps) is an AppError of type t.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrInsufficientBalance, ErrInvalidState:
		return http.StatusConflict
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrReadOnly:
		return http.StatusForbidden
	case ErrLockTimeout, ErrTransientNetwork:
		return http.StatusServiceUnavailable
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTerminal, ErrTxDropped:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInsufficientBalance:
		return "Rebalance from the cold wallet or reduce the order size."
	case ErrTransientNetwork:
		return "Retry the request."
	case ErrLockTimeout:
		return "Nonce allocation is contended; retry the submission."
	case ErrTxDropped:
		return "Check nonce gaps and resync the nonce if needed."
	case ErrReadOnly:
		return "Server runs in read-only mode; only queries and emergency stop are allowed."
	case ErrTerminal:
		return "Inspect the transaction receipt; do not resend with the same nonce."
	default:
		return ""
	}
}
