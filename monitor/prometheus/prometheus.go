package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status_code"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"path", "method", "status_code"})

	httpActiveRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatewayz_http_active_requests",
		Help: "Number of active HTTP requests",
	}, []string{"path", "method"})

	relayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_relay_request_duration_seconds",
		Help:    "Duration of chat completion relays in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"provider", "model", "user_tier", "success"})

	relayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_relay_requests_total",
		Help: "Total number of chat completion relays",
	}, []string{"provider", "model", "user_tier", "success"})

	relayTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_relay_tokens_total",
		Help: "Total tokens relayed",
	}, []string{"provider", "model", "token_type"})

	relayCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_relay_cost_usd_total",
		Help: "Total relayed cost in USD",
	}, []string{"provider", "model"})

	providerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_provider_call_duration_seconds",
		Help:    "Duration of upstream provider calls in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 45, 60, 120},
	}, []string{"provider", "model", "success"})

	providerSlowTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_provider_slow_total",
		Help: "Provider calls exceeding the slow-response thresholds",
	}, []string{"provider", "severity"})

	providerBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatewayz_provider_breaker_open",
		Help: "Whether the provider circuit breaker is open (1) or closed (0)",
	}, []string{"provider"})

	catalogFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_catalog_fetch_duration_seconds",
		Help:    "Duration of upstream catalog fetches in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
	}, []string{"gateway", "success", "failure_kind"})

	admissionWaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_admission_wait_seconds",
		Help:    "Time spent waiting in the admission queue",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"admitted"})

	concurrencyActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatewayz_concurrency_active",
		Help: "Requests currently inside the admission gate",
	})

	concurrencyQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatewayz_concurrency_queued",
		Help: "Requests currently waiting in the admission queue",
	})

	overloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_overload_total",
		Help: "Requests rejected by the admission gate",
	}, []string{"reason"})

	rateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_rate_limit_hits_total",
		Help: "Total number of rate limit hits",
	}, []string{"limit_type", "identifier"})

	tokenAuthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_token_auth_total",
		Help: "Total number of API key authentications",
	}, []string{"success"})

	dbQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_db_queries_total",
		Help: "Total number of database queries",
	}, []string{"operation", "table", "success"})

	redisCommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_redis_command_duration_seconds",
		Help:    "Duration of Redis commands in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	}, []string{"command", "success"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_errors_total",
		Help: "Total number of errors",
	}, []string{"error_type", "component"})

	billingOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatewayz_billing_operation_duration_seconds",
		Help:    "Duration of billing operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "success"})

	billingAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatewayz_billing_amount_usd_total",
		Help: "Total billed amount in USD",
	}, []string{"operation", "model"})

	systemInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gatewayz_system_info",
		Help: "Build and runtime information",
	}, []string{"version", "build_time", "go_version"})

	systemStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gatewayz_start_time_seconds",
		Help: "Unix timestamp of process start",
	})
)

// PrometheusRecorder implements the MetricsRecorder interface using
// prometheus/client_golang collectors registered on the default registry.
type PrometheusRecorder struct{}

// RecordHTTPRequest records HTTP request metrics
func (p *PrometheusRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	httpRequestDuration.WithLabelValues(path, method, statusCode).Observe(time.Since(startTime).Seconds())
	httpRequestsTotal.WithLabelValues(path, method, statusCode).Inc()
}

// RecordHTTPActiveRequest records active HTTP request metrics
func (p *PrometheusRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	httpActiveRequests.WithLabelValues(path, method).Add(delta)
}

// RecordRelayRequest records chat completion relay metrics
func (p *PrometheusRecorder) RecordRelayRequest(startTime time.Time, provider, model, userTier string, success bool, promptTokens, completionTokens int, costUSD float64) {
	successStr := strconv.FormatBool(success)
	relayRequestDuration.WithLabelValues(provider, model, userTier, successStr).Observe(time.Since(startTime).Seconds())
	relayRequestsTotal.WithLabelValues(provider, model, userTier, successStr).Inc()
	if promptTokens > 0 {
		relayTokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		relayTokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if costUSD > 0 {
		relayCostTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}

// RecordProviderCall records one upstream provider attempt
func (p *PrometheusRecorder) RecordProviderCall(startTime time.Time, provider, model string, success bool) {
	providerCallDuration.WithLabelValues(provider, model, strconv.FormatBool(success)).Observe(time.Since(startTime).Seconds())
}

// RecordSlowProvider records a provider call that crossed a slow threshold
func (p *PrometheusRecorder) RecordSlowProvider(provider, severity string, elapsed time.Duration) {
	providerSlowTotal.WithLabelValues(provider, severity).Inc()
}

// UpdateProviderBreaker updates the breaker state gauge
func (p *PrometheusRecorder) UpdateProviderBreaker(provider string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	providerBreakerOpen.WithLabelValues(provider).Set(v)
}

// RecordCatalogFetch records one upstream catalog fetch
func (p *PrometheusRecorder) RecordCatalogFetch(startTime time.Time, gateway string, success bool, failureKind string) {
	catalogFetchDuration.WithLabelValues(gateway, strconv.FormatBool(success), failureKind).Observe(time.Since(startTime).Seconds())
}

// RecordAdmissionWait records admission queue wait time
func (p *PrometheusRecorder) RecordAdmissionWait(startTime time.Time, admitted bool) {
	admissionWaitDuration.WithLabelValues(strconv.FormatBool(admitted)).Observe(time.Since(startTime).Seconds())
}

// UpdateConcurrency updates the admission gate gauges
func (p *PrometheusRecorder) UpdateConcurrency(active, queued int) {
	concurrencyActive.Set(float64(active))
	concurrencyQueued.Set(float64(queued))
}

// RecordOverload records an admission rejection
func (p *PrometheusRecorder) RecordOverload(reason string) {
	overloadTotal.WithLabelValues(reason).Inc()
}

// RecordRateLimitHit records rate limit hit metrics
func (p *PrometheusRecorder) RecordRateLimitHit(limitType, identifier string) {
	rateLimitHits.WithLabelValues(limitType, identifier).Inc()
}

// RecordTokenAuth records token authentication metrics
func (p *PrometheusRecorder) RecordTokenAuth(success bool) {
	tokenAuthTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordDBQuery records database query metrics
func (p *PrometheusRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	dbQueriesTotal.WithLabelValues(operation, table, strconv.FormatBool(success)).Inc()
}

// RecordRedisCommand records Redis command metrics
func (p *PrometheusRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	redisCommandDuration.WithLabelValues(command, strconv.FormatBool(success)).Observe(time.Since(startTime).Seconds())
}

// RecordError records error metrics
func (p *PrometheusRecorder) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordBillingOperation records billing operation metrics
func (p *PrometheusRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, userId int64, modelName string, amountUSD float64) {
	billingOperationDuration.WithLabelValues(operation, strconv.FormatBool(success)).Observe(time.Since(startTime).Seconds())
	if amountUSD > 0 {
		billingAmountTotal.WithLabelValues(operation, modelName).Add(amountUSD)
	}
}

// InitSystemMetrics initializes system metrics
func (p *PrometheusRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	systemInfo.WithLabelValues(version, buildTime, goVersion).Set(1)
	systemStartTime.Set(float64(startTime.Unix()))
}
