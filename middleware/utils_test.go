package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewayz/gatewayz/common/helper"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

func TestAbortWithErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	c.Set(helper.RequestIdKey, "req-123")

	AbortWithError(c, http.StatusPaymentRequired,
		relaymodel.NewError(http.StatusPaymentRequired, relaymodel.CodeInsufficientCredits,
			"not enough credits").WithDetail("max_cost", 0.05))

	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var body struct {
		Error struct {
			Status    int            `json:"status"`
			Code      string         `json:"code"`
			Message   string         `json:"message"`
			Type      string         `json:"type"`
			RequestID string         `json:"request_id"`
			Details   map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusPaymentRequired, body.Error.Status)
	assert.Equal(t, relaymodel.CodeInsufficientCredits, body.Error.Code)
	assert.Equal(t, string(relaymodel.ErrorTypeBilling), body.Error.Type)
	assert.Equal(t, "req-123", body.Error.RequestID)
	assert.InDelta(t, 0.05, body.Error.Details["max_cost"], 1e-9)
}

func TestAbortWithErrorCoercesPlainErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", nil)

	AbortWithError(c, http.StatusBadRequest, errors.New("model field is required"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), relaymodel.CodeValidationError)

	w2 := httptest.NewRecorder()
	c2, _ := gin.CreateTestContext(w2)
	c2.Request = httptest.NewRequest("POST", "/", nil)

	AbortWithError(c2, http.StatusBadGateway, errors.New("boom"))
	require.Equal(t, http.StatusBadGateway, w2.Code)
	assert.Contains(t, w2.Body.String(), relaymodel.CodeInternalError)
}

func TestAbortWithErrorUnwrapsWrappedAPIError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/", nil)

	inner := relaymodel.NewError(http.StatusNotFound, relaymodel.CodeModelNotFound, "no such model")
	AbortWithError(c, http.StatusInternalServerError, errors.Wrap(inner, "relay failed"))

	// The embedded API error wins over the fallback status.
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), relaymodel.CodeModelNotFound)
}

func TestExtractBearerKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mk := func(header, value string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("POST", "/", nil)
		if header != "" {
			c.Request.Header.Set(header, value)
		}
		return c
	}

	assert.Equal(t, "gz-abc", extractBearerKey(mk("Authorization", "Bearer gz-abc")))
	assert.Equal(t, "gz-abc", extractBearerKey(mk("Authorization", "gz-abc")))
	assert.Equal(t, "gz-xyz", extractBearerKey(mk("X-Api-Key", "gz-xyz")))
	assert.Equal(t, "", extractBearerKey(mk("", "")))
}

func TestGetRequestModel(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", strings.NewReader(`{"model":"gpt-4o","stream":true}`))
	c.Request.Header.Set("Content-Type", "application/json")

	got, err := getRequestModel(c)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got)

	// The body stays readable for the handler downstream.
	got2, err := getRequestModel(c)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got2)
}

func TestGetRequestModelMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", strings.NewReader(`{"messages":[]}`))
	c.Request.Header.Set("Content-Type", "application/json")

	_, err := getRequestModel(c)
	require.Error(t, err)
}
