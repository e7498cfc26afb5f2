package model

import (
	"net/http"

	"github.com/Laisky/errors/v2"
)

// ErrorType is the coarse taxonomy tag surfaced in the error envelope.
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeBilling        ErrorType = "billing_error"
	ErrorTypeRateLimit      ErrorType = "rate_limit_error"
	ErrorTypeUpstream       ErrorType = "upstream_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeOverload       ErrorType = "overload_error"
	ErrorTypeInternal       ErrorType = "internal_error"
)

// Stable error codes; clients branch on these, so they never change.
const (
	CodeInvalidAPIKey       = "invalid_api_key"
	CodeTrialExpired        = "trial_expired"
	CodeTrialLimitExceeded  = "trial_limit_exceeded"
	CodeInsufficientCredits = "insufficient_credits"
	CodeRateLimited         = "rate_limited"
	CodeSecurityLimit       = "security_limit"
	CodeBehavioralLimit     = "behavioral_limit"
	CodeServerOverload      = "server_overload"
	CodeProviderError       = "provider_error"
	CodeProviderUnavailable = "provider_unavailable"
	CodeModelNotFound       = "model_not_found"
	CodeValidationError     = "validation_error"
	CodeInternalError       = "internal_error"
)

// Error is the structured error payload; the HTTP status code of the
// response always equals Status.
type Error struct {
	Status    int            `json:"status"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Type      ErrorType      `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`

	RawError error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// WithDetail attaches one actionable detail field and returns the error for
// chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithRequestID stamps the request id used for log correlation.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// NewError builds an Error with the taxonomy tag implied by the code.
func NewError(status int, code, message string) *Error {
	return &Error{
		Status:   status,
		Code:     code,
		Message:  message,
		Type:     typeForCode(code, status),
		RawError: errors.New(message),
	}
}

// WrapError builds an Error that keeps err as the raw cause for logging.
func WrapError(err error, status int, code, message string) *Error {
	return &Error{
		Status:   status,
		Code:     code,
		Message:  message,
		Type:     typeForCode(code, status),
		RawError: errors.Wrap(err, message),
	}
}

func typeForCode(code string, status int) ErrorType {
	switch code {
	case CodeInvalidAPIKey, CodeTrialExpired, CodeTrialLimitExceeded:
		return ErrorTypeAuthentication
	case CodeInsufficientCredits:
		return ErrorTypeBilling
	case CodeRateLimited, CodeSecurityLimit, CodeBehavioralLimit:
		return ErrorTypeRateLimit
	case CodeServerOverload:
		return ErrorTypeOverload
	case CodeProviderError, CodeProviderUnavailable:
		return ErrorTypeUpstream
	case CodeModelNotFound, CodeValidationError:
		return ErrorTypeInvalidRequest
	}
	if status >= http.StatusInternalServerError {
		return ErrorTypeInternal
	}
	return ErrorTypeInvalidRequest
}

// IsTransientStatus reports whether an upstream status warrants trying the
// next provider: timeouts, 5xx, and rate limiting. Auth failures and other
// 4xx are not retried.
func IsTransientStatus(status int) bool {
	if status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return true
	}
	return status >= 500 && status <= 599
}
