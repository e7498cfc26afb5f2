package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/metrics"
)

// Metrics records request durations and in-flight gauges per route. The
// route template (not the raw path) keys the metric so path parameters do
// not explode cardinality.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		metrics.GlobalRecorder.RecordHTTPActiveRequest(path, method, 1)
		defer func() {
			metrics.GlobalRecorder.RecordHTTPActiveRequest(path, method, -1)
			metrics.GlobalRecorder.RecordHTTPRequest(start, path, method, strconv.Itoa(c.Writer.Status()))
		}()

		c.Next()
	}
}
