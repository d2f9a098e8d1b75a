package provider

import (
	"errors"
	"fmt"
)

// Error codes the aggregator returns that we branch on.
const (
	CodeInvalidPublicToken = "INVALID_PUBLIC_TOKEN"
	CodeInvalidAccessToken = "INVALID_ACCESS_TOKEN"
	CodeItemLoginRequired  = "ITEM_LOGIN_REQUIRED"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
)

// Error is a structured failure response from the aggregator API.
type Error struct {
	Code       string `json:"error_code"`
	Type       string `json:"error_type"`
	Message    string `json:"error_message"`
	RequestID  string `json:"request_id"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s (%s): %s", e.Code, e.Type, e.Message)
}

// Retryable reports whether the call may succeed on a retry. Server-side
// failures and rate limiting are transient; credential and validation
// errors are not.
func (e *Error) Retryable() bool {
	if e.Code == CodeRateLimitExceeded {
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable classifies any error from this package. Errors that are not
// structured aggregator responses (timeouts, connection resets) are treated
// as transient.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}

// ErrorCode extracts the aggregator error code, or "" for plain errors.
func ErrorCode(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
