package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/helper"
)

// RequestId assigns every request a time-ordered identifier, mirrors it into
// the response header, and threads it through the request context so every
// log line and error envelope can carry it.
func RequestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(helper.RequestIdKey)
		if id == "" {
			id = helper.GenRequestID()
		}
		c.Set(helper.RequestIdKey, id)
		ctx := context.WithValue(c.Request.Context(), helper.RequestIdKey, id) //nolint:staticcheck
		c.Request = c.Request.WithContext(ctx)
		c.Header(helper.RequestIdKey, id)
		c.Next()
	}
}
