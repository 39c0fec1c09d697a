package agent

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExhausted is returned when retryable provider failures exceed
// the retry budget. It wraps the last provider error.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	ErrorCodeAuth           ErrorCode = "auth"
	ErrorCodeRateLimit      ErrorCode = "rate_limit"
	ErrorCodeOverloaded     ErrorCode = "overloaded"
	ErrorCodeUnavailable    ErrorCode = "unavailable"
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"
	ErrorCodeContentBlocked ErrorCode = "content_blocked"
	ErrorCodeNetwork        ErrorCode = "network"
	ErrorCodeUnknown        ErrorCode = "unknown"
)

// ProviderError is a model API failure.
type ProviderError struct {
	Provider   string
	Code       ErrorCode
	StatusCode int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Underlying error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Code, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Code, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether err carries a retryable ProviderError.
func IsRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

// NewProviderError classifies an HTTP status returned by provider.
func NewProviderError(provider string, status int, message string, underlying error) *ProviderError {
	perr := &ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Underlying: underlying,
	}

	switch {
	case status == 401 || status == 403:
		perr.Code = ErrorCodeAuth
	case status == 429:
		perr.Code = ErrorCodeRateLimit
		perr.Retryable = true
	case status == 529:
		perr.Code = ErrorCodeOverloaded
		perr.Retryable = true
	case status == 500 || status == 502 || status == 503 || status == 504:
		perr.Code = ErrorCodeUnavailable
		perr.Retryable = true
	case status >= 400 && status < 500:
		perr.Code = ErrorCodeInvalidRequest
	default:
		perr.Code = ErrorCodeUnknown
	}
	return perr
}

// ValidationError reports user input rejected by the guard. The input never
// reaches the model.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "input rejected: " + e.Reason
}
