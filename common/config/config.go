package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Best-effort: a missing .env is the normal production case.
	_ = godotenv.Load()
}

// Env reports the deployment environment. Anything other than "live" is
// treated as a non-production environment for limit multipliers.
var Env = GetEnvString("GATEWAYZ_ENV", "live")

// IsLiveEnv reports whether the current environment is production.
func IsLiveEnv() bool {
	switch strings.ToLower(Env) {
	case "test", "staging", "development":
		return false
	default:
		return true
	}
}

var (
	Port         = GetEnvString("PORT", "3000")
	DebugEnabled = GetEnvBool("DEBUG", false)

	SQLDSN          = GetEnvString("SQL_DSN", "")
	RedisConnString = GetEnvString("REDIS_CONN_STRING", "")

	EnablePrometheusMetrics  = GetEnvBool("ENABLE_PROMETHEUS_METRICS", true)
	OpenTelemetryEnabled     = GetEnvBool("OTEL_ENABLED", false)
	OpenTelemetryEndpoint    = GetEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	OpenTelemetryInsecure    = GetEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	OpenTelemetryServiceName = GetEnvString("OTEL_SERVICE_NAME", "gatewayz")
	OpenTelemetryEnvironment = GetEnvString("OTEL_ENVIRONMENT", Env)
)

// Admission gate (global concurrency limiter).
var (
	AdmissionLimit        = GetEnvInt("ADMISSION_LIMIT", 20)
	AdmissionQueueSize    = GetEnvInt("ADMISSION_QUEUE_SIZE", 50)
	AdmissionQueueTimeout = GetEnvDuration("ADMISSION_QUEUE_TIMEOUT", 10*time.Second)
)

// Behavioral rate limiter.
var (
	RateLimitResidentialRPM = GetEnvInt("RATE_LIMIT_RESIDENTIAL_RPM", 300)
	RateLimitDatacenterRPM  = GetEnvInt("RATE_LIMIT_DATACENTER_RPM", 60)
	RateLimitFingerprintRPM = GetEnvInt("RATE_LIMIT_FINGERPRINT_RPM", 100)
	VelocityErrorRatio      = GetEnvFloat("VELOCITY_ERROR_RATIO", 0.25)
	VelocityMinSamples      = GetEnvInt("VELOCITY_MIN_SAMPLES", 100)
	VelocityModeDuration    = GetEnvDuration("VELOCITY_MODE_DURATION", 180*time.Second)
	// Comma-separated keywords matched against ASN/org hints supplied by the
	// edge proxy.
	DatacenterKeywords = GetEnvStringSlice("DATACENTER_KEYWORDS", []string{
		"amazon", "aws", "google cloud", "gcp", "microsoft", "azure",
		"digitalocean", "ovh", "hetzner", "linode", "vultr", "alibaba", "oracle",
	})
)

// Gateway-issued API keys look like "gz-<40 hex chars>". The limiter only
// needs the shape to decide the authenticated bypass; real validation happens
// in the auth middleware.
var (
	TokenKeyPrefix = GetEnvString("TOKEN_KEY_PREFIX", "gz-")
	TokenKeyMinLen = GetEnvInt("TOKEN_KEY_MIN_LEN", 40)
)

// Circuit breakers and catalog aggregation.
var (
	BreakerFailureThreshold = GetEnvInt("BREAKER_FAILURE_THRESHOLD", 3)
	BreakerRecoveryTimeout  = GetEnvDuration("BREAKER_RECOVERY_TIMEOUT", 300*time.Second)

	CatalogWorkers        = GetEnvInt("CATALOG_WORKERS", 12)
	CatalogRefreshWorkers = GetEnvInt("CATALOG_REFRESH_WORKERS", 4)
	CatalogFetchTimeout   = GetEnvDuration("CATALOG_FETCH_TIMEOUT", 15*time.Second)
	CatalogOverallTimeout = GetEnvDuration("CATALOG_OVERALL_TIMEOUT", 30*time.Second)
	CatalogTTL            = GetEnvDuration("CATALOG_TTL", time.Hour)
	CatalogStaleTTL       = GetEnvDuration("CATALOG_STALE_TTL", 2*time.Hour)
	// Alibaba quota-exceeded responses are cached independently of the
	// regular stale window.
	AlibabaQuotaBackoff = GetEnvDuration("ALIBABA_QUOTA_BACKOFF", 15*time.Minute)
)

// Authorization caches.
var (
	PlanCacheTTL         = GetEnvDuration("PLAN_CACHE_TTL", 30*time.Second)
	TrialCacheTTL        = GetEnvDuration("TRIAL_CACHE_TTL", 60*time.Second)
	TrialInvalidCacheTTL = GetEnvDuration("TRIAL_INVALID_CACHE_TTL", time.Hour)
	APIKeyCacheTTL       = GetEnvDuration("API_KEY_CACHE_TTL", 5*time.Minute)
	APIKeyLookupRetries  = GetEnvInt("API_KEY_LOOKUP_RETRIES", 3)
)

// Billing.
var (
	// Flat per-token fallback when a model has no resolvable pricing; only
	// used on the trial path, never to charge paid users.
	FallbackTokenRateUSD = GetEnvFloat("FALLBACK_TOKEN_RATE_USD", 0.000002)
	LiveDailyTokenFloor  = GetEnvInt("LIVE_DAILY_TOKEN_FLOOR", 25000)
)

// Outbound HTTP.
var (
	RelayProxy   = GetEnvString("RELAY_PROXY", "")
	RelayTimeout = GetEnvDuration("RELAY_TIMEOUT", 0)
	// Refuses outbound connections to private address space; SSRF guard for
	// deployments that accept user-configured selector endpoints.
	BlockInternalRequests = GetEnvBool("BLOCK_INTERNAL_REQUESTS", false)
)

// Routing.
var (
	DefaultAggregator = GetEnvString("DEFAULT_AGGREGATOR", "openrouter")
	RetryTimes        = GetEnvInt("RETRY_TIMES", 3)
	// Providers tried first when they offer the requested model,
	// comma-separated in priority order.
	PreferredProviders = GetEnvStringSlice("PREFERRED_PROVIDERS", nil)

	SelectorBaseURL = GetEnvString("SELECTOR_BASE_URL", "")
	SelectorAPIKey  = GetEnvString("SELECTOR_API_KEY", "")
)

// Provider timing thresholds for slow-call logging.
var (
	SlowProviderWarn     = GetEnvDuration("SLOW_PROVIDER_WARN", 30*time.Second)
	SlowProviderError    = GetEnvDuration("SLOW_PROVIDER_ERROR", 45*time.Second)
	SlowProviderCritical = GetEnvDuration("SLOW_PROVIDER_CRITICAL", 60*time.Second)
)

// GetEnvString returns the env value for key or def when unset/empty.
func GetEnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// GetEnvInt returns the env value for key parsed as int or def on failure.
func GetEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// GetEnvFloat returns the env value for key parsed as float64 or def on failure.
func GetEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// GetEnvBool returns the env value for key parsed as bool or def on failure.
func GetEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// GetEnvDuration returns the env value for key parsed as a duration
// ("30s", "2h") or def on failure.
func GetEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetEnvStringSlice splits a comma-separated env value, trimming blanks.
func GetEnvStringSlice(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for part := range strings.SplitSeq(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
