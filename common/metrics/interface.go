package metrics

import (
	"time"
)

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	// HTTP metrics
	RecordHTTPRequest(startTime time.Time, path, method, statusCode string)
	RecordHTTPActiveRequest(path, method string, delta float64)

	// Relay metrics
	RecordRelayRequest(startTime time.Time, provider, model, userTier string, success bool, promptTokens, completionTokens int, costUSD float64)

	// Provider metrics
	RecordProviderCall(startTime time.Time, provider, model string, success bool)
	RecordSlowProvider(provider, severity string, elapsed time.Duration)
	UpdateProviderBreaker(provider string, open bool)

	// Catalog metrics
	RecordCatalogFetch(startTime time.Time, gateway string, success bool, failureKind string)

	// Admission metrics
	RecordAdmissionWait(startTime time.Time, admitted bool)
	UpdateConcurrency(active, queued int)
	RecordOverload(reason string)

	// Rate limit metrics
	RecordRateLimitHit(limitType, identifier string)

	// Authentication metrics
	RecordTokenAuth(success bool)

	// Database metrics
	RecordDBQuery(startTime time.Time, operation, table string, success bool)

	// Redis metrics
	RecordRedisCommand(startTime time.Time, command string, success bool)

	// Error metrics
	RecordError(errorType, component string)

	// Billing metrics
	RecordBillingOperation(startTime time.Time, operation string, success bool, userId int64, modelName string, amountUSD float64)

	// System metrics
	InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time)
}

// GlobalRecorder holds the active metrics recorder implementation.
var GlobalRecorder MetricsRecorder

// NoOpRecorder is a no-operation implementation for when metrics are disabled
type NoOpRecorder struct{}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest without collecting any data.
func (n *NoOpRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest without collecting any data.
func (n *NoOpRecorder) RecordRelayRequest(startTime time.Time, provider, model, userTier string, success bool, promptTokens, completionTokens int, costUSD float64) {
}

// RecordProviderCall implements MetricsRecorder.RecordProviderCall without collecting any data.
func (n *NoOpRecorder) RecordProviderCall(startTime time.Time, provider, model string, success bool) {
}

// RecordSlowProvider implements MetricsRecorder.RecordSlowProvider without collecting any data.
func (n *NoOpRecorder) RecordSlowProvider(provider, severity string, elapsed time.Duration) {}

// UpdateProviderBreaker implements MetricsRecorder.UpdateProviderBreaker without collecting any data.
func (n *NoOpRecorder) UpdateProviderBreaker(provider string, open bool) {}

// RecordCatalogFetch implements MetricsRecorder.RecordCatalogFetch without collecting any data.
func (n *NoOpRecorder) RecordCatalogFetch(startTime time.Time, gateway string, success bool, failureKind string) {
}

// RecordAdmissionWait implements MetricsRecorder.RecordAdmissionWait without collecting any data.
func (n *NoOpRecorder) RecordAdmissionWait(startTime time.Time, admitted bool) {}

// UpdateConcurrency implements MetricsRecorder.UpdateConcurrency without collecting any data.
func (n *NoOpRecorder) UpdateConcurrency(active, queued int) {}

// RecordOverload implements MetricsRecorder.RecordOverload without collecting any data.
func (n *NoOpRecorder) RecordOverload(reason string) {}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit without collecting any data.
func (n *NoOpRecorder) RecordRateLimitHit(limitType, identifier string) {}

// RecordTokenAuth implements MetricsRecorder.RecordTokenAuth without collecting any data.
func (n *NoOpRecorder) RecordTokenAuth(success bool) {}

// RecordDBQuery implements MetricsRecorder.RecordDBQuery without collecting any data.
func (n *NoOpRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {}

// RecordRedisCommand implements MetricsRecorder.RecordRedisCommand without collecting any data.
func (n *NoOpRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {}

// RecordError implements MetricsRecorder.RecordError without collecting any data.
func (n *NoOpRecorder) RecordError(errorType, component string) {}

// RecordBillingOperation implements MetricsRecorder.RecordBillingOperation without collecting any data.
func (n *NoOpRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, userId int64, modelName string, amountUSD float64) {
}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics without collecting any data.
func (n *NoOpRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {}

// Initialize with no-op recorder by default
func init() {
	GlobalRecorder = &NoOpRecorder{}
}

// MultiRecorder wraps multiple MetricsRecorder implementations
type MultiRecorder struct {
	Recorders []MetricsRecorder
}

// RecordHTTPRequest implements MetricsRecorder.RecordHTTPRequest
func (m *MultiRecorder) RecordHTTPRequest(startTime time.Time, path, method, statusCode string) {
	for _, r := range m.Recorders {
		r.RecordHTTPRequest(startTime, path, method, statusCode)
	}
}

// RecordHTTPActiveRequest implements MetricsRecorder.RecordHTTPActiveRequest
func (m *MultiRecorder) RecordHTTPActiveRequest(path, method string, delta float64) {
	for _, r := range m.Recorders {
		r.RecordHTTPActiveRequest(path, method, delta)
	}
}

// RecordRelayRequest implements MetricsRecorder.RecordRelayRequest
func (m *MultiRecorder) RecordRelayRequest(startTime time.Time, provider, model, userTier string, success bool, promptTokens, completionTokens int, costUSD float64) {
	for _, r := range m.Recorders {
		r.RecordRelayRequest(startTime, provider, model, userTier, success, promptTokens, completionTokens, costUSD)
	}
}

// RecordProviderCall implements MetricsRecorder.RecordProviderCall
func (m *MultiRecorder) RecordProviderCall(startTime time.Time, provider, model string, success bool) {
	for _, r := range m.Recorders {
		r.RecordProviderCall(startTime, provider, model, success)
	}
}

// RecordSlowProvider implements MetricsRecorder.RecordSlowProvider
func (m *MultiRecorder) RecordSlowProvider(provider, severity string, elapsed time.Duration) {
	for _, r := range m.Recorders {
		r.RecordSlowProvider(provider, severity, elapsed)
	}
}

// UpdateProviderBreaker implements MetricsRecorder.UpdateProviderBreaker
func (m *MultiRecorder) UpdateProviderBreaker(provider string, open bool) {
	for _, r := range m.Recorders {
		r.UpdateProviderBreaker(provider, open)
	}
}

// RecordCatalogFetch implements MetricsRecorder.RecordCatalogFetch
func (m *MultiRecorder) RecordCatalogFetch(startTime time.Time, gateway string, success bool, failureKind string) {
	for _, r := range m.Recorders {
		r.RecordCatalogFetch(startTime, gateway, success, failureKind)
	}
}

// RecordAdmissionWait implements MetricsRecorder.RecordAdmissionWait
func (m *MultiRecorder) RecordAdmissionWait(startTime time.Time, admitted bool) {
	for _, r := range m.Recorders {
		r.RecordAdmissionWait(startTime, admitted)
	}
}

// UpdateConcurrency implements MetricsRecorder.UpdateConcurrency
func (m *MultiRecorder) UpdateConcurrency(active, queued int) {
	for _, r := range m.Recorders {
		r.UpdateConcurrency(active, queued)
	}
}

// RecordOverload implements MetricsRecorder.RecordOverload
func (m *MultiRecorder) RecordOverload(reason string) {
	for _, r := range m.Recorders {
		r.RecordOverload(reason)
	}
}

// RecordRateLimitHit implements MetricsRecorder.RecordRateLimitHit
func (m *MultiRecorder) RecordRateLimitHit(limitType, identifier string) {
	for _, r := range m.Recorders {
		r.RecordRateLimitHit(limitType, identifier)
	}
}

// RecordTokenAuth implements MetricsRecorder.RecordTokenAuth
func (m *MultiRecorder) RecordTokenAuth(success bool) {
	for _, r := range m.Recorders {
		r.RecordTokenAuth(success)
	}
}

// RecordDBQuery implements MetricsRecorder.RecordDBQuery
func (m *MultiRecorder) RecordDBQuery(startTime time.Time, operation, table string, success bool) {
	for _, r := range m.Recorders {
		r.RecordDBQuery(startTime, operation, table, success)
	}
}

// RecordRedisCommand implements MetricsRecorder.RecordRedisCommand
func (m *MultiRecorder) RecordRedisCommand(startTime time.Time, command string, success bool) {
	for _, r := range m.Recorders {
		r.RecordRedisCommand(startTime, command, success)
	}
}

// RecordError implements MetricsRecorder.RecordError
func (m *MultiRecorder) RecordError(errorType, component string) {
	for _, r := range m.Recorders {
		r.RecordError(errorType, component)
	}
}

// RecordBillingOperation implements MetricsRecorder.RecordBillingOperation
func (m *MultiRecorder) RecordBillingOperation(startTime time.Time, operation string, success bool, userId int64, modelName string, amountUSD float64) {
	for _, r := range m.Recorders {
		r.RecordBillingOperation(startTime, operation, success, userId, modelName, amountUSD)
	}
}

// InitSystemMetrics implements MetricsRecorder.InitSystemMetrics
func (m *MultiRecorder) InitSystemMetrics(version, buildTime, goVersion string, startTime time.Time) {
	for _, r := range m.Recorders {
		r.InitSystemMetrics(version, buildTime, goVersion, startTime)
	}
}
