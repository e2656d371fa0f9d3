package common

import (
	"errors"
	"fmt"
)

// ErrorCode is the closed set of normalized exchange failure categories.
// Adapters map venue-specific errors onto these before returning them.
type ErrorCode string

const (
	CodeInvalidKey         ErrorCode = "invalid_key"
	CodeInsufficientFunds  ErrorCode = "insufficient_funds"
	CodeRateLimit          ErrorCode = "rate_limit"
	CodePermissionDenied   ErrorCode = "permission_denied"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
)

// ExchangeError carries a normalized code plus the venue's message.
type ExchangeError struct {
	Code    ErrorCode
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %s: %s", e.Code, e.Message)
}

// NewError builds a normalized exchange error.
func NewError(code ErrorCode, message string) *ExchangeError {
	return &ExchangeError{Code: code, Message: message}
}

// CodeOf extracts the normalized code, or service_unavailable for anything
// that escaped normalization (timeouts, connection resets).
func CodeOf(err error) ErrorCode {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeServiceUnavailable
}

// Retryable reports whether a failed call is worth retrying.
func Retryable(code ErrorCode) bool {
	return code == CodeRateLimit || code == CodeServiceUnavailable
}
