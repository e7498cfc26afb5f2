package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateRouter(g *Gate, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(g.Middleware())
	r.POST("/v1/chat/completions", handler)
	return r
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func TestGateAdmitsWithinLimit(t *testing.T) {
	g := NewGate(2, 0, 0)
	r := gateRouter(g, okHandler)

	for range 5 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, 0, g.Stats().Active)
}

func TestGateRejectsWhenFullNoQueue(t *testing.T) {
	g := NewGate(1, 0, 0)
	// Occupy the only slot.
	g.slots <- struct{}{}
	defer func() { <-g.slots }()

	r := gateRouter(g, okHandler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, RetryAfterSeconds, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "server_overload")
	assert.Contains(t, w.Body.String(), "queue_full")
}

func TestGateZeroTimeoutDisablesQueue(t *testing.T) {
	// Queue positions exist, but with no wait budget the request is
	// rejected immediately instead of parking.
	g := NewGate(1, 10, 0)
	g.slots <- struct{}{}
	defer func() { <-g.slots }()

	r := gateRouter(g, okHandler)
	start := time.Now()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateQueueTimeout(t *testing.T) {
	g := NewGate(1, 5, 50*time.Millisecond)
	g.slots <- struct{}{}
	defer func() { <-g.slots }()

	r := gateRouter(g, okHandler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "queue_timeout")
	assert.Equal(t, 0, g.Stats().Queued)
}

func TestGateQueuedRequestAdmittedWhenSlotFrees(t *testing.T) {
	g := NewGate(1, 5, 2*time.Second)
	release := make(chan struct{})
	entered := make(chan struct{}, 2)

	r := gateRouter(g, func(c *gin.Context) {
		entered <- struct{}{}
		<-release
		c.Status(http.StatusOK)
	})

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))
			codes[i] = w.Code
		}()
	}

	// First request holds the slot; once released, the queued one follows.
	<-entered
	close(release)
	<-entered
	wg.Wait()

	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)
	assert.Equal(t, 0, g.Stats().Active)
	assert.Equal(t, 0, g.Stats().Queued)
}

func TestGateQueueOverflow(t *testing.T) {
	g := NewGate(1, 1, time.Second)
	g.slots <- struct{}{}
	defer func() { <-g.slots }()
	require.True(t, g.tryEnqueue())
	defer func() { g.queued = 0 }()

	r := gateRouter(g, okHandler)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/chat/completions", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "queue_full")
}

func TestGateStats(t *testing.T) {
	g := NewGate(20, 50, 10*time.Second)
	stats := g.Stats()
	assert.Equal(t, 20, stats.Limit)
	assert.Equal(t, 50, stats.QueueSize)
	assert.Equal(t, int64(10000), stats.QueueTimeout)
	assert.Equal(t, 0, stats.Active)
}

func TestGateNormalizesBadLimits(t *testing.T) {
	g := NewGate(0, -5, 0)
	assert.Equal(t, 1, g.Stats().Limit)
	assert.Equal(t, 0, g.Stats().QueueSize)
}
