package controller

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/middleware"
	"github.com/gatewayz/gatewayz/model"
	"github.com/gatewayz/gatewayz/monitor"
	"github.com/gatewayz/gatewayz/relay/breaker"
)

// Health serves GET /api/diagnostics/health.
func Health() gin.HandlerFunc {
	started := time.Now()
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(started).Seconds()),
			"timestamp":      time.Now().Unix(),
		})
	}
}

// Ready serves GET /ready. The instance is ready once the database is
// connected; the catalog warms lazily and is not a readiness condition.
func Ready() gin.HandlerFunc {
	return func(c *gin.Context) {
		if model.DB == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// concurrencyHealth tags gate utilization for dashboards.
func concurrencyHealth(stats middleware.GateStats) (float64, string) {
	if stats.Limit == 0 {
		return 0, "healthy"
	}
	utilization := float64(stats.Active) / float64(stats.Limit)
	switch {
	case utilization >= 1 && stats.Queued > 0:
		return utilization, "saturated"
	case utilization >= 0.8:
		return utilization, "busy"
	default:
		return utilization, "healthy"
	}
}

// Concurrency serves GET /api/diagnostics/concurrency.
func Concurrency(gate *middleware.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := gate.Stats()
		utilization, health := concurrencyHealth(stats)
		c.JSON(http.StatusOK, gin.H{
			"active":           stats.Active,
			"queued":           stats.Queued,
			"limit":            stats.Limit,
			"queue_size":       stats.QueueSize,
			"queue_timeout_ms": stats.QueueTimeout,
			"utilization":      utilization,
			"health":           health,
		})
	}
}

// ProviderTiming serves GET /api/diagnostics/provider-timing: slow-call
// aggregation plus the breaker state per provider.
func ProviderTiming(breakers *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"providers": monitor.Timing.Snapshot(),
			"breakers":  breakers.Snapshot(),
		})
	}
}
