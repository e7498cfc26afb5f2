package otel

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelRecorder implements the MetricsRecorder interface using OpenTelemetry
type OtelRecorder struct {
	meter metric.Meter

	// Relay metrics
	relayRequestDuration metric.Float64Histogram
	relayRequestsTotal   metric.Int64Counter
	relayTokensUsed      metric.Int64Counter
	relayCostUSD         metric.Float64Counter

	// HTTP metrics
	httpRequestDuration metric.Float64Histogram
	httpRequestsTotal   metric.Int64Counter
	httpActiveRequests  metric.Float64UpDownCounter

	// Provider metrics
	providerCallDuration metric.Float64Histogram
	providerSlowTotal    metric.Int64Counter
	providerBreakerOpen  metric.Int64Gauge

	// Catalog metrics
	catalogFetchDuration metric.Float64Histogram

	// Admission metrics
	admissionWaitDuration metric.Float64Histogram
	concurrencyActive     metric.Int64Gauge
	concurrencyQueued     metric.Int64Gauge
	overloadTotal         metric.Int64Counter

	// Rate limit metrics
	rateLimitHits metric.Int64Counter

	// Database metrics
	dbQueriesTotal metric.Int64Counter

	// Redis metrics
	redisCommandDuration metric.Float64Histogram

	// Error metrics
	errorsTotal metric.Int64Counter

	// Billing metrics
	billingOperationDuration metric.Float64Histogram
	billingAmountUSD         metric.Float64Counter
}

// NewOtelRecorder creates a new OtelRecorder
func NewOtelRecorder() (*OtelRecorder, error) {
	meter := otel.Meter("gatewayz")
	r := &OtelRecorder{meter: meter}

	var err error
	// Relay metrics
	if r.relayRequestDuration, err = meter.Float64Histogram("gatewayz_relay_request_duration_seconds", metric.WithDescription("Duration of chat completion relays in seconds")); err != nil {
		return nil, err
	}
	if r.relayRequestsTotal, err = meter.Int64Counter("gatewayz_relay_requests_total", metric.WithDescription("Total number of chat completion relays")); err != nil {
		return nil, err
	}
	if r.relayTokensUsed, err = meter.Int64Counter("gatewayz_relay_tokens_total", metric.WithDescription("Total tokens relayed")); err != nil {
		return nil, err
	}
	if r.relayCostUSD, err = meter.Float64Counter("gatewayz_relay_cost_usd_total", metric.WithDescription("Total relayed cost in USD")); err != nil {
		return nil, err
	}

	// HTTP metrics
	if r.httpRequestDuration, err = meter.Float64Histogram("gatewayz_http_request_duration_seconds", metric.WithDescription("Duration of HTTP requests in seconds")); err != nil {
		return nil, err
	}
	if r.httpRequestsTotal, err = meter.Int64Counter("gatewayz_http_requests_total", metric.WithDescription("Total number of HTTP requests")); err != nil {
		return nil, err
	}
	if r.httpActiveRequests, err = meter.Float64UpDownCounter("gatewayz_http_active_requests", metric.WithDescription("Number of active HTTP requests")); err != nil {
		return nil, err
	}

	// Provider metrics
	if r.providerCallDuration, err = meter.Float64Histogram("gatewayz_provider_call_duration_seconds", metric.WithDescription("Duration of upstream provider calls in seconds")); err != nil {
		return nil, err
	}
	if r.providerSlowTotal, err = meter.Int64Counter("gatewayz_provider_slow_total", metric.WithDescription("Provider calls exceeding slow-response thresholds")); err != nil {
		return nil, err
	}
	if r.providerBreakerOpen, err = meter.Int64Gauge("gatewayz_provider_breaker_open", metric.WithDescription("Whether the provider circuit breaker is open (1) or closed (0)")); err != nil {
		return nil, err
	}

	// Catalog metrics
	if r.catalogFetchDuration, err = meter.Float64Histogram("gatewayz_catalog_fetch_duration_seconds", metric.WithDescription("Duration of upstream catalog fetches in seconds")); err != nil {
		return nil, err
	}

	// Admission metrics
	if r.admissionWaitDuration, err = meter.Float64Histogram("gatewayz_admission_wait_seconds", metric.WithDescription("Time spent waiting in the admission queue")); err != nil {
		return nil, err
	}
	if r.concurrencyActive, err = meter.Int64Gauge("gatewayz_concurrency_active", metric.WithDescription("Requests currently inside the admission gate")); err != nil {
		return nil, err
	}
	if r.concurrencyQueued, err = meter.Int64Gauge("gatewayz_concurrency_queued", metric.WithDescription("Requests currently waiting in the admission queue")); err != nil {
		return nil, err
	}
	if r.overloadTotal, err = meter.Int64Counter("gatewayz_overload_total", metric.WithDescription("Requests rejected by the admission gate")); err != nil {
		return nil, err
	}

	// Rate limit metrics
	if r.rateLimitHits, err = meter.Int64Counter("gatewayz_rate_limit_hits_total", metric.WithDescription("Total number of rate limit hits")); err != nil {
		return nil, err
	}

	// Database metrics
	if r.dbQueriesTotal, err = meter.Int64Counter("gatewayz_db_queries_total", metric.WithDescription("Total number of database queries")); err != nil {
		return nil, err
	}

	// Redis metrics
	if r.redisCommandDuration, err = meter.Float64Histogram("gatewayz_redis_command_duration_seconds", metric.WithDescription("Duration of Redis commands in seconds")); err != nil {
		return nil, err
	}

	// Error metrics
	if r.errorsTotal, err = meter.Int64Counter("gatewayz_errors_total", metric.WithDescription("Total number of errors")); err != nil {
		return nil, err
	}

	// Billing metrics
	if r.billingOperationDuration, err = meter.Float64Histogram("gatewayz_billing_operation_duration_seconds", metric.WithDescription("Duration of billing operations in seconds")); err != nil {
		return nil, err
	}
	if r.billingAmountUSD, err = meter.Float64Counter("gatewayz_billing_amount_usd_total", metric.WithDescription("Total billed amount in USD")); err != nil {
		return nil, err
	}

	return r, nil
}

// RecordHTTPRequest records HTTP request metrics
func (r *OtelRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
		attribute.String("status_code", statusCode),
	}
	r.httpRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordHTTPActiveRequest records active HTTP request metrics
func (r *OtelRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("path", path),
		attribute.String("method", method),
	}
	r.httpActiveRequests.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// RecordRelayRequest records chat completion relay metrics
func (r *OtelRecorder) RecordRelayRequest(startTime time.Time, provider, model, userTier string, success bool, promptTokens, completionTokens int, costUSD float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("user_tier", userTier),
		attribute.String("success", strconv.FormatBool(success)),
	}

	r.relayRequestDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	r.relayRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if promptTokens > 0 {
		promptAttrs := append(attrs, attribute.String("token_type", "prompt"))
		r.relayTokensUsed.Add(ctx, int64(promptTokens), metric.WithAttributes(promptAttrs...))
	}
	if completionTokens > 0 {
		completionAttrs := append(attrs, attribute.String("token_type", "completion"))
		r.relayTokensUsed.Add(ctx, int64(completionTokens), metric.WithAttributes(completionAttrs...))
	}
	if costUSD > 0 {
		r.relayCostUSD.Add(ctx, costUSD, metric.WithAttributes(attrs...))
	}
}

// RecordProviderCall records one upstream provider attempt
func (r *OtelRecorder) RecordProviderCall(startTime time.Time, provider, model string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.providerCallDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
}

// RecordSlowProvider records a provider call that crossed a slow threshold
func (r *OtelRecorder) RecordSlowProvider(provider, severity string, elapsed time.Duration) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("severity", severity),
	}
	r.providerSlowTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// UpdateProviderBreaker updates the breaker state gauge
func (r *OtelRecorder) UpdateProviderBreaker(provider string, open bool) {
	ctx := context.Background()
	v := int64(0)
	if open {
		v = 1
	}
	r.providerBreakerOpen.Record(ctx, v, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCatalogFetch records one upstream catalog fetch
func (r *OtelRecorder) RecordCatalogFetch(startTime time.Time, gateway string, success bool, failureKind string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("gateway", gateway),
		attribute.String("success", strconv.FormatBool(success)),
		attribute.String("failure_kind", failureKind),
	}
	r.catalogFetchDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
}

// RecordAdmissionWait records admission queue wait time
func (r *OtelRecorder) RecordAdmissionWait(startTime time.Time, admitted bool) {
	ctx := context.Background()
	r.admissionWaitDuration.Record(ctx, time.Since(startTime).Seconds(),
		metric.WithAttributes(attribute.String("admitted", strconv.FormatBool(admitted))))
}

// UpdateConcurrency updates the admission gate gauges
func (r *OtelRecorder) UpdateConcurrency(active, queued int) {
	ctx := context.Background()
	r.concurrencyActive.Record(ctx, int64(active))
	r.concurrencyQueued.Record(ctx, int64(queued))
}

// RecordOverload records an admission rejection
func (r *OtelRecorder) RecordOverload(reason string) {
	ctx := context.Background()
	r.overloadTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRateLimitHit records rate limit hit metrics
func (r *OtelRecorder) RecordRateLimitHit(limitType, identifier string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("limit_type", limitType),
		attribute.String("identifier", identifier),
	}
	r.rateLimitHits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenAuth records token authentication metrics
func (r *OtelRecorder) RecordTokenAuth(success bool) {
	// Not implemented for Otel yet
}

// RecordDBQuery records database query metrics
func (r *OtelRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("table", table),
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.dbQueriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRedisCommand records Redis command metrics
func (r *OtelRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("command", command),
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.redisCommandDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
}

// RecordError records error metrics
func (r *OtelRecorder) RecordError(errorType, component string) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("error_type", errorType),
		attribute.String("component", component),
	}
	r.errorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingOperation records billing operation metrics
func (r *OtelRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, userId int64, modelName string, amountUSD float64) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("success", strconv.FormatBool(success)),
	}
	r.billingOperationDuration.Record(ctx, time.Since(startTime).Seconds(), metric.WithAttributes(attrs...))
	if amountUSD > 0 {
		r.billingAmountUSD.Add(ctx, amountUSD, metric.WithAttributes(attribute.String("model", modelName)))
	}
}

// InitSystemMetrics initializes system metrics
func (r *OtelRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
}
