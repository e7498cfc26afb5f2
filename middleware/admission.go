package middleware

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// RetryAfterSeconds is the hint sent with every overload rejection.
const RetryAfterSeconds = "5"

// Gate is the global admission gate: a fixed number of in-flight slots plus
// a bounded wait queue. Requests beyond both bounds are rejected with 503
// instead of piling up.
type Gate struct {
	slots        chan struct{}
	queueSize    int64
	queueTimeout time.Duration

	queued int64
}

// NewGate builds a gate with the given concurrency limit and queue bounds.
// queueTimeout of zero disables waiting entirely: a request either gets a
// slot immediately or is rejected.
func NewGate(limit, queueSize int, queueTimeout time.Duration) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Gate{
		slots:        make(chan struct{}, limit),
		queueSize:    int64(queueSize),
		queueTimeout: queueTimeout,
	}
}

// NewGateFromConfig builds the gate from the environment configuration.
func NewGateFromConfig() *Gate {
	return NewGate(config.AdmissionLimit, config.AdmissionQueueSize, config.AdmissionQueueTimeout)
}

// GateStats is the diagnostics snapshot.
type GateStats struct {
	Active       int   `json:"active"`
	Queued       int   `json:"queued"`
	Limit        int   `json:"limit"`
	QueueSize    int   `json:"queue_size"`
	QueueTimeout int64 `json:"queue_timeout_ms"`
}

// Stats reports the current gate occupancy.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Active:       len(g.slots),
		Queued:       int(atomic.LoadInt64(&g.queued)),
		Limit:        cap(g.slots),
		QueueSize:    int(g.queueSize),
		QueueTimeout: g.queueTimeout.Milliseconds(),
	}
}

// Middleware applies the gate to inference traffic.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Fast path: a free slot.
		select {
		case g.slots <- struct{}{}:
			g.admit(c, start)
			return
		default:
		}

		if g.queueTimeout <= 0 || !g.tryEnqueue() {
			g.reject(c, "queue_full")
			return
		}
		defer atomic.AddInt64(&g.queued, -1)

		timer := time.NewTimer(g.queueTimeout)
		defer timer.Stop()

		select {
		case g.slots <- struct{}{}:
			g.admit(c, start)
		case <-timer.C:
			metrics.GlobalRecorder.RecordAdmissionWait(start, false)
			g.reject(c, "queue_timeout")
		case <-c.Request.Context().Done():
			metrics.GlobalRecorder.RecordAdmissionWait(start, false)
			c.Abort()
		}
	}
}

// tryEnqueue reserves a queue position if one is free.
func (g *Gate) tryEnqueue() bool {
	for {
		q := atomic.LoadInt64(&g.queued)
		if q >= g.queueSize {
			return false
		}
		if atomic.CompareAndSwapInt64(&g.queued, q, q+1) {
			return true
		}
	}
}

func (g *Gate) admit(c *gin.Context, start time.Time) {
	metrics.GlobalRecorder.RecordAdmissionWait(start, true)
	metrics.GlobalRecorder.UpdateConcurrency(len(g.slots), int(atomic.LoadInt64(&g.queued)))

	defer func() {
		<-g.slots
		metrics.GlobalRecorder.UpdateConcurrency(len(g.slots), int(atomic.LoadInt64(&g.queued)))
	}()
	c.Next()
}

func (g *Gate) reject(c *gin.Context, reason string) {
	metrics.GlobalRecorder.RecordOverload(reason)
	c.Header("Retry-After", RetryAfterSeconds)
	AbortWithError(c, http.StatusServiceUnavailable,
		relaymodel.NewError(http.StatusServiceUnavailable, relaymodel.CodeServerOverload,
			"server is at capacity, please retry shortly").WithDetail("reason", reason))
}
