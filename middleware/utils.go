package middleware

import (
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common"
	"github.com/gatewayz/gatewayz/common/helper"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// AbortWithError aborts the request with the structured error envelope.
// Client-caused rejections log as WARN, server-side failures as ERROR.
func AbortWithError(c *gin.Context, statusCode int, err error) {
	apiErr := asAPIError(err, statusCode)
	apiErr.RequestID = c.GetString(helper.RequestIdKey)

	logger := gmw.GetLogger(c)
	fields := []zap.Field{
		zap.Int("status_code", apiErr.Status),
		zap.String("code", apiErr.Code),
		zap.Error(rawCause(apiErr)),
	}
	if apiErr.Status >= http.StatusInternalServerError {
		logger.Error("server abort", fields...)
	} else {
		logger.Warn("server abort", fields...)
	}

	c.JSON(apiErr.Status, gin.H{"error": apiErr})
	c.Abort()
}

// asAPIError coerces any error into the envelope shape. Errors that are not
// already *relaymodel.Error get a generic code from the status class.
func asAPIError(err error, statusCode int) *relaymodel.Error {
	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	code := relaymodel.CodeValidationError
	if statusCode >= http.StatusInternalServerError {
		code = relaymodel.CodeInternalError
	}
	return relaymodel.WrapError(err, statusCode, code, err.Error())
}

func rawCause(apiErr *relaymodel.Error) error {
	if apiErr.RawError != nil {
		return apiErr.RawError
	}
	return apiErr
}

// chatRequestShape is the subset of the request body the middleware layer
// needs before the handler parses the full payload.
type chatRequestShape struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func getRequestModel(c *gin.Context) (string, error) {
	var shape chatRequestShape
	if err := common.UnmarshalBodyReusable(c, &shape); err != nil {
		return "", errors.Wrap(err, "parse request body")
	}
	if strings.TrimSpace(shape.Model) == "" {
		return "", errors.New("missing required field: model")
	}
	return shape.Model, nil
}

// extractBearerKey pulls the API key from Authorization or the Anthropic
// compatible X-Api-Key header.
func extractBearerKey(c *gin.Context) string {
	key := c.Request.Header.Get("Authorization")
	if key == "" {
		key = c.Request.Header.Get("X-Api-Key")
	}
	return strings.TrimSpace(strings.TrimPrefix(key, "Bearer "))
}
