package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without detail",
			err: &AppError{
				Code:    ErrCodeUnauthorized,
				Message: "Authentication required",
			},
			expected: "unauthorized: Authentication required",
		},
		{
			name: "error with detail",
			err: &AppError{
				Code:    ErrCodeBadRequest,
				Message: "Invalid request",
				Detail:  "missing required field 'mnemonic'",
			},
			expected: "bad_request: Invalid request (missing required field 'mnemonic')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewWithDetail(t *testing.T) {
	err := NewWithDetail(
		"test_code",
		"Test message",
		"Additional details",
		http.StatusBadRequest,
	)

	assert.Equal(t, "test_code", err.Code)
	assert.Equal(t, "Test message", err.Message)
	assert.Equal(t, "Additional details", err.Detail)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
}

func TestTaxonomyConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name       string
		err        *AppError
		sentinel   *AppError
		code       string
		statusCode int
		wrapsCause bool
	}{
		{"crypto", CryptoFailure("derive", cause), ErrCryptoFailure, ErrCodeCryptoFailure, http.StatusInternalServerError, true},
		{"composition", CompositionFailure(1, cause), ErrCompositionFailure, ErrCodeCompositionFailure, http.StatusUnprocessableEntity, true},
		{"network", NetworkFailure("login", cause), ErrNetworkFailure, ErrCodeNetworkFailure, http.StatusBadGateway, true},
		{"chain terminal", ChainTerminalFailure("abc", "EXPIRED"), ErrChainTerminalFailure, ErrCodeChainTerminalFailure, http.StatusConflict, false},
		{"threshold", ThresholdNotMet(1, 2), ErrThresholdNotMet, ErrCodeThresholdNotMet, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.statusCode, tt.err.StatusCode)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", tt.err), tt.sentinel))
			assert.Equal(t, tt.wrapsCause, errors.Is(tt.err, cause))
			assert.Equal(t, tt.code, Code(tt.err))
		})
	}
}

func TestAppError_IsDoesNotCrossCodes(t *testing.T) {
	err := NetworkFailure("sync", nil)

	assert.False(t, errors.Is(err, ErrCryptoFailure))
	assert.Equal(t, "sync", err.Detail)
}

func TestThresholdNotMetDetail(t *testing.T) {
	err := ThresholdNotMet(1, 2)
	assert.Equal(t, "have 1, need 2", err.Detail)
}

func TestIsAppError(t *testing.T) {
	t.Run("returns AppError when error is AppError", func(t *testing.T) {
		originalErr := New("test", "test", http.StatusBadRequest)
		appErr, ok := IsAppError(originalErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})

	t.Run("returns false when error is not AppError", func(t *testing.T) {
		stdErr := errors.New("standard error")
		appErr, ok := IsAppError(stdErr)

		assert.False(t, ok)
		assert.Nil(t, appErr)
		assert.Equal(t, ErrCodeInternalError, Code(stdErr))
	})

	t.Run("works with wrapped errors", func(t *testing.T) {
		originalErr := New("test", "test", http.StatusBadRequest)
		wrappedErr := fmt.Errorf("wrapped: %w", originalErr)

		appErr, ok := IsAppError(wrappedErr)

		require.True(t, ok)
		assert.Equal(t, originalErr, appErr)
	})
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []string{
		ErrCodeUnauthorized,
		ErrCodeNotFound,
		ErrCodeBadRequest,
		ErrCodeConflict,
		ErrCodeRateLimited,
		ErrCodeInternalError,
		ErrCodeCryptoFailure,
		ErrCodeCompositionFailure,
		ErrCodeNetworkFailure,
		ErrCodeChainTerminalFailure,
		ErrCodeThresholdNotMet,
	}

	uniqueCodes := make(map[string]bool)
	for _, code := range codes {
		assert.NotEmpty(t, code, "error code should not be empty")
		assert.False(t, uniqueCodes[code], "error code %s is duplicate", code)
		uniqueCodes[code] = true
	}
}
