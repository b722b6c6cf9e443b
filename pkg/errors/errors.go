package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application-level error with HTTP status code
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"-"`

	// Err is the underlying cause, if any. It is never serialized.
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so that
// errors.Is(err, ErrNetworkFailure) matches any network failure.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Common error codes
const (
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotFound      = "not_found"
	ErrCodeBadRequest    = "bad_request"
	ErrCodeConflict      = "conflict"
	ErrCodeRateLimited   = "rate_limited"
	ErrCodeInternalError = "internal_error"

	// Failure taxonomy of the key-registration core
	ErrCodeCryptoFailure        = "crypto_failure"
	ErrCodeCompositionFailure   = "composition_failure"
	ErrCodeNetworkFailure       = "network_failure"
	ErrCodeChainTerminalFailure = "chain_terminal_failure"
	ErrCodeThresholdNotMet      = "threshold_not_met"
)

// Predefined errors
var (
	ErrUnauthorized = &AppError{
		Code:       ErrCodeUnauthorized,
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrNotFound = &AppError{
		Code:       ErrCodeNotFound,
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       ErrCodeBadRequest,
		Message:    "Invalid request parameters",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalError = &AppError{
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	ErrConflict = &AppError{
		Code:       ErrCodeConflict,
		Message:    "Request conflict",
		StatusCode: http.StatusConflict,
	}

	// Taxonomy sentinels, usable as errors.Is targets.
	ErrCryptoFailure        = &AppError{Code: ErrCodeCryptoFailure}
	ErrCompositionFailure   = &AppError{Code: ErrCodeCompositionFailure}
	ErrNetworkFailure       = &AppError{Code: ErrCodeNetworkFailure}
	ErrChainTerminalFailure = &AppError{Code: ErrCodeChainTerminalFailure}
	ErrThresholdNotMet      = &AppError{Code: ErrCodeThresholdNotMet}
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewWithDetail creates a new AppError with additional detail
func NewWithDetail(code, message, detail string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// CryptoFailure wraps a derivation or signing error
func CryptoFailure(op string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeCryptoFailure,
		Message:    "Key operation failed",
		Detail:     detailOf(op, err),
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// CompositionFailure reports that a signer failed during multi-signature
// composition. No transaction id exists when this is returned.
func CompositionFailure(signerIndex int, err error) *AppError {
	return &AppError{
		Code:       ErrCodeCompositionFailure,
		Message:    "Transaction composition aborted",
		Detail:     detailOf(fmt.Sprintf("signer %d", signerIndex), err),
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NetworkFailure wraps an external call error or a non-200 response
func NetworkFailure(call string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeNetworkFailure,
		Message:    "External call failed",
		Detail:     detailOf(call, err),
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// ChainTerminalFailure reports a transaction that reached EXPIRED or ERROR
func ChainTerminalFailure(txID, status string) *AppError {
	return &AppError{
		Code:       ErrCodeChainTerminalFailure,
		Message:    "Transaction did not execute",
		Detail:     fmt.Sprintf("tx %s: %s", txID, status),
		StatusCode: http.StatusConflict,
	}
}

// ThresholdNotMet rejects an operation before any external call is made
func ThresholdNotMet(have, need int) *AppError {
	return &AppError{
		Code:       ErrCodeThresholdNotMet,
		Message:    "Not enough key shares",
		Detail:     fmt.Sprintf("have %d, need %d", have, need),
		StatusCode: http.StatusBadRequest,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the taxonomy code of err, or ErrCodeInternalError when err
// carries none.
func Code(err error) string {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

func detailOf(op string, err error) string {
	if err == nil {
		return op
	}
	return fmt.Sprintf("%s: %v", op, err)
}
