package common

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/ctxkey"
)

// GetRequestBody reads and caches the request body so it can be reused later
// in the handler chain (the model extractor, the handler, and retries all
// need it).
func GetRequestBody(c *gin.Context) (requestBody []byte, err error) {
	if cached, _ := c.Get(ctxkey.KeyRequestBody); cached != nil {
		return cached.([]byte), nil
	}
	requestBody, err = io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body failed")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, requestBody)

	return requestBody, nil
}

// UnmarshalBodyReusable unmarshals the request body into the provided pointer
// while keeping the body reusable. It supports JSON and form payloads based
// on the Content-Type header.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	requestBody, err := GetRequestBody(c)
	if err != nil {
		return errors.Wrap(err, "get request body failed")
	}

	if v == nil || reflect.TypeOf(v).Kind() != reflect.Ptr {
		return errors.Errorf("UnmarshalBodyReusable only accepts a pointer, got %v", reflect.TypeOf(v))
	}

	// Every inbound payload gets exactly one sanitized debug log line,
	// regardless of how many handlers re-read the body.
	_ = LogClientRequestPayload(c, c.Request.URL.Path, DefaultLogBodyLimit)

	contentType := c.Request.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		err = json.Unmarshal(requestBody, v)
	} else {
		c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		err = c.ShouldBind(v)
	}
	if err != nil {
		return errors.Wrap(err, "unmarshal request body failed")
	}

	// Reset request body
	c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
	return nil
}

// LogClientRequestPayload emits a sanitized preview of the request body at
// debug level, at most once per request. Oversized strings and base64 blobs
// are truncated or redacted so a single image upload cannot flood the logs.
// The body stays reusable for downstream handlers.
func LogClientRequestPayload(c *gin.Context, scope string, limit int) error {
	if logged, _ := c.Get(ctxkey.ClientRequestPayloadLogged); logged == true {
		return nil
	}

	body, err := GetRequestBody(c)
	if err != nil {
		return errors.Wrap(err, "get request body for payload logging")
	}
	if limit <= 0 {
		limit = DefaultLogBodyLimit
	}

	preview, truncated := SanitizePayloadForLogging(body, limit)
	gmw.GetLogger(c).Debug("client request payload",
		zap.String("scope", scope),
		zap.ByteString("payload", preview),
		zap.Bool("truncated", truncated))
	c.Set(ctxkey.ClientRequestPayloadLogged, true)
	return nil
}

// SetEventStreamHeaders configures the standard headers required for
// server-sent event responses.
func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}
