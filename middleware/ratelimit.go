package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Source classes for unauthenticated traffic.
const (
	sourceResidential = "residential"
	sourceDatacenter  = "datacenter"
	limitFingerprint  = "fingerprint"
)

// velocityState tracks the per-minute error ratio that triggers velocity
// mode: when too many requests error, unauthenticated limits are halved for
// a cool-down period.
type velocityState struct {
	minute   int64
	total    int64
	errored  int64
	until    int64 // unix nano deadline while velocity mode is active
}

// RateLimiter applies per-minute behavioral limits to unauthenticated
// traffic. Buckets live in Redis when available so limits hold across
// replicas; otherwise a local in-memory fallback applies per-instance.
type RateLimiter struct {
	rdb *redis.Client

	mu      sync.Mutex
	buckets map[string]*int64

	velocity velocityState

	now func() time.Time
}

// NewRateLimiter builds a limiter; rdb may be nil.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{
		rdb:     rdb,
		buckets: map[string]*int64{},
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock; test helper.
func (rl *RateLimiter) SetNowFunc(now func() time.Time) { rl.now = now }

// Middleware enforces the behavioral limits. Requests presenting a
// well-formed gateway API key bypass the limiter entirely; the auth
// middleware decides whether the key is actually valid.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := rl.now()
		if hasGatewayKeyShape(extractBearerKey(c)) {
			c.Next()
			rl.recordOutcome(c.Writer.Status(), rl.now().Sub(start))
			return
		}

		now := start
		minute := now.Unix() / 60
		velocityActive := rl.velocityActive(now)

		ipClass := classifySource(c)
		ipLimit := config.RateLimitResidentialRPM
		code := relaymodel.CodeRateLimited
		if ipClass == sourceDatacenter {
			ipLimit = config.RateLimitDatacenterRPM
			code = relaymodel.CodeSecurityLimit
		}
		fpLimit := config.RateLimitFingerprintRPM
		if velocityActive {
			ipLimit = halve(ipLimit)
			fpLimit = halve(fpLimit)
		}

		ip := clientIP(c)
		ipCount := rl.bump(c, fmt.Sprintf("rl:ip:%s:%d", ip, minute))
		if ipCount > int64(ipLimit) {
			rl.reject(c, ipClass, ip, code, ipLimit, now, velocityActive)
			return
		}

		fp := fingerprint(c)
		fpCount := rl.bump(c, fmt.Sprintf("rl:fp:%s:%d", fp, minute))
		if fpCount > int64(fpLimit) {
			rl.reject(c, limitFingerprint, fp, relaymodel.CodeBehavioralLimit, fpLimit, now, velocityActive)
			return
		}

		remaining := int64(ipLimit) - ipCount
		if fpRemaining := int64(fpLimit) - fpCount; fpRemaining < remaining {
			remaining = fpRemaining
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(ipLimit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt((minute+1)*60, 10))

		c.Next()
		rl.recordOutcome(c.Writer.Status(), rl.now().Sub(start))
	}
}

// bump increments the minute bucket and returns the new count.
func (rl *RateLimiter) bump(c *gin.Context, key string) int64 {
	if rl.rdb != nil {
		start := time.Now()
		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, 2*time.Minute)
		_, err := pipe.Exec(c.Request.Context())
		metrics.GlobalRecorder.RecordRedisCommand(start, "incr", err == nil)
		if err == nil {
			return incr.Val()
		}
		gmw.GetLogger(c).Warn("rate limit redis bump failed, using local bucket", zap.Error(err))
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	counter, ok := rl.buckets[key]
	if !ok {
		counter = new(int64)
		rl.buckets[key] = counter
		// Opportunistic sweep keeps the fallback map bounded.
		if len(rl.buckets) > 100000 {
			rl.buckets = map[string]*int64{key: counter}
		}
	}
	return atomic.AddInt64(counter, 1)
}

func (rl *RateLimiter) reject(c *gin.Context, limitType, identifier, code string, limit int, now time.Time, velocityActive bool) {
	metrics.GlobalRecorder.RecordRateLimitHit(limitType, identifier)

	retryAfter := 60 - now.Unix()%60
	c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("X-RateLimit-Reset", strconv.FormatInt((now.Unix()/60+1)*60, 10))

	apiErr := relaymodel.NewError(http.StatusTooManyRequests, code, "rate limit exceeded, slow down").
		WithDetail("limit_type", limitType)
	if velocityActive {
		apiErr = apiErr.WithDetail("velocity_mode", true)
	}
	AbortWithError(c, http.StatusTooManyRequests, apiErr)
}

// Nginx's non-standard status for a client that closed the connection
// before the response was written.
const statusClientClosedRequest = 499

// slowAbandonThreshold is how long a client-abandoned request must have run
// to count as a system error: fast cancels are normal, slow ones mean the
// backend was struggling.
const slowAbandonThreshold = 5 * time.Second

// recordOutcome feeds the velocity-mode error ratio. System errors are 5xx
// plus slow client-abandoned requests. Counters reset each minute; crossing
// the configured ratio with enough samples arms velocity mode for the
// cool-down duration.
func (rl *RateLimiter) recordOutcome(status int, elapsed time.Duration) {
	now := rl.now()
	minute := now.Unix() / 60

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.velocity.minute != minute {
		rl.velocity.minute = minute
		rl.velocity.total = 0
		rl.velocity.errored = 0
	}
	rl.velocity.total++
	switch {
	case status >= http.StatusInternalServerError:
		rl.velocity.errored++
	case status == statusClientClosedRequest && elapsed > slowAbandonThreshold:
		rl.velocity.errored++
	}

	if rl.velocity.total >= int64(config.VelocityMinSamples) {
		ratio := float64(rl.velocity.errored) / float64(rl.velocity.total)
		if ratio > config.VelocityErrorRatio {
			rl.velocity.until = now.Add(config.VelocityModeDuration).UnixNano()
		}
	}
}

func (rl *RateLimiter) velocityActive(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.UnixNano() < rl.velocity.until
}

// VelocityActive reports whether halved limits are currently in force.
func (rl *RateLimiter) VelocityActive() bool {
	return rl.velocityActive(rl.now())
}

// hasGatewayKeyShape reports whether the credential looks like a
// gateway-issued key. Shape only: validation happens downstream.
func hasGatewayKeyShape(key string) bool {
	return strings.HasPrefix(key, config.TokenKeyPrefix) && len(key) >= config.TokenKeyMinLen
}

// halve applies velocity mode to a limit, never dropping below one request
// per minute.
func halve(limit int) int {
	limit /= 2
	if limit < 1 {
		limit = 1
	}
	return limit
}

// clientIP returns the first X-Forwarded-For hop when the edge proxy
// supplies one, else the transport peer address.
func clientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}

// Scripting clients whose user agents mark automated traffic.
var scriptingAgents = []string{
	"python-requests", "python-urllib", "aiohttp", "httpx", "go-http-client",
	"curl/", "wget/", "java/", "okhttp", "node-fetch", "axios",
}

// classifySource labels the client datacenter when any automation signal is
// present: a proxy header, a scripting user agent, or an ASN organization
// hint matching the configured keyword list.
func classifySource(c *gin.Context) string {
	if c.GetHeader("X-Proxy-ID") != "" || c.GetHeader("Via") != "" {
		return sourceDatacenter
	}

	ua := strings.ToLower(c.Request.UserAgent())
	for _, agent := range scriptingAgents {
		if strings.Contains(ua, agent) {
			return sourceDatacenter
		}
	}

	org := strings.ToLower(c.GetHeader("X-ASN-Org"))
	if org != "" {
		for _, keyword := range config.DatacenterKeywords {
			if strings.Contains(org, strings.ToLower(keyword)) {
				return sourceDatacenter
			}
		}
	}
	return sourceResidential
}

// fingerprint derives a stable client identity from request attributes that
// survive IP rotation: the IP deliberately stays out of the hash so a bot
// rotating addresses keeps hitting the same bucket. 16-byte prefix of the
// SHA-256 digest.
func fingerprint(c *gin.Context) string {
	h := sha256.New()
	h.Write([]byte(c.Request.UserAgent()))
	h.Write([]byte{0})
	h.Write([]byte(c.GetHeader("Accept-Language")))
	h.Write([]byte{0})
	h.Write([]byte(c.GetHeader("Accept-Encoding")))
	return hex.EncodeToString(h.Sum(nil)[:16])
}
