package model

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     string
		status   int
		wantType ErrorType
	}{
		{CodeInvalidAPIKey, http.StatusUnauthorized, ErrorTypeAuthentication},
		{CodeTrialExpired, http.StatusForbidden, ErrorTypeAuthentication},
		{CodeInsufficientCredits, http.StatusPaymentRequired, ErrorTypeBilling},
		{CodeRateLimited, http.StatusTooManyRequests, ErrorTypeRateLimit},
		{CodeServerOverload, http.StatusServiceUnavailable, ErrorTypeOverload},
		{CodeProviderError, http.StatusBadGateway, ErrorTypeUpstream},
		{CodeProviderUnavailable, http.StatusServiceUnavailable, ErrorTypeUpstream},
		{CodeModelNotFound, http.StatusNotFound, ErrorTypeInvalidRequest},
		{CodeValidationError, http.StatusBadRequest, ErrorTypeInvalidRequest},
		{"unknown_code", http.StatusInternalServerError, ErrorTypeInternal},
		{"unknown_code", http.StatusBadRequest, ErrorTypeInvalidRequest},
	}
	for _, tt := range tests {
		apiErr := NewError(tt.status, tt.code, "boom")
		require.Equal(t, tt.wantType, apiErr.Type, "code=%s status=%d", tt.code, tt.status)
		require.Equal(t, tt.status, apiErr.Status)
		require.EqualError(t, apiErr, "boom")
		require.Error(t, apiErr.RawError)
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	t.Parallel()

	cause := NewError(http.StatusBadGateway, CodeProviderError, "upstream exploded")
	wrapped := WrapError(cause, http.StatusBadGateway, CodeProviderError, "relay failed")
	require.Equal(t, "relay failed", wrapped.Message)
	require.ErrorContains(t, wrapped.RawError, "upstream exploded")
}

func TestWithDetailAndRequestID(t *testing.T) {
	t.Parallel()

	apiErr := NewError(http.StatusPaymentRequired, CodeInsufficientCredits, "balance too low").
		WithDetail("max_cost", 0.5).
		WithRequestID("req-42")
	require.Equal(t, 0.5, apiErr.Details["max_cost"])
	require.Equal(t, "req-42", apiErr.RequestID)
}

func TestIsTransientStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout, 500, 502, 503, 599} {
		require.True(t, IsTransientStatus(status), "status %d", status)
	}
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, 600} {
		require.False(t, IsTransientStatus(status), "status %d", status)
	}
}
