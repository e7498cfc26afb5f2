package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// Slow-response severities, in escalation order.
const (
	SeverityNone     = ""
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// ProviderTiming is one provider's timing snapshot for diagnostics.
type ProviderTiming struct {
	Provider     string    `json:"provider"`
	TotalCalls   int64     `json:"total_calls"`
	SlowWarn     int64     `json:"slow_warn"`
	SlowError    int64     `json:"slow_error"`
	SlowCritical int64     `json:"slow_critical"`
	AvgSeconds   float64   `json:"avg_seconds"`
	MaxSeconds   float64   `json:"max_seconds"`
	LastCall     time.Time `json:"last_call"`
}

type providerStats struct {
	totalCalls   int64
	slowWarn     int64
	slowError    int64
	slowCritical int64
	totalSeconds float64
	maxSeconds   float64
	lastCall     time.Time
}

// TimingTracker records upstream call durations and flags providers that
// cross the slow-response thresholds.
type TimingTracker struct {
	mu    sync.Mutex
	stats map[string]*providerStats

	warn     time.Duration
	error    time.Duration
	critical time.Duration

	now func() time.Time
}

// NewTimingTracker builds a tracker with the configured thresholds.
func NewTimingTracker() *TimingTracker {
	return &TimingTracker{
		stats:    map[string]*providerStats{},
		warn:     config.SlowProviderWarn,
		error:    config.SlowProviderError,
		critical: config.SlowProviderCritical,
		now:      time.Now,
	}
}

// Timing is the process-wide tracker.
var Timing = NewTimingTracker()

// Observe records one provider call and returns the slow severity it
// triggered, if any. Crossings are logged and counted once, at the highest
// severity reached.
func (t *TimingTracker) Observe(provider string, elapsed time.Duration) string {
	severity := t.classify(elapsed)

	t.mu.Lock()
	st, ok := t.stats[provider]
	if !ok {
		st = &providerStats{}
		t.stats[provider] = st
	}
	st.totalCalls++
	st.totalSeconds += elapsed.Seconds()
	if elapsed.Seconds() > st.maxSeconds {
		st.maxSeconds = elapsed.Seconds()
	}
	st.lastCall = t.now()
	switch severity {
	case SeverityWarn:
		st.slowWarn++
	case SeverityError:
		st.slowError++
	case SeverityCritical:
		st.slowCritical++
	}
	t.mu.Unlock()

	if severity == SeverityNone {
		return severity
	}

	metrics.GlobalRecorder.RecordSlowProvider(provider, severity, elapsed)
	fields := []zap.Field{
		zap.String("provider", provider),
		zap.Duration("elapsed", elapsed),
		zap.String("severity", severity),
	}
	switch severity {
	case SeverityCritical, SeverityError:
		logger.Logger.Error("slow provider response", fields...)
	default:
		logger.Logger.Warn("slow provider response", fields...)
	}
	return severity
}

func (t *TimingTracker) classify(elapsed time.Duration) string {
	switch {
	case elapsed >= t.critical:
		return SeverityCritical
	case elapsed >= t.error:
		return SeverityError
	case elapsed >= t.warn:
		return SeverityWarn
	default:
		return SeverityNone
	}
}

// Snapshot returns per-provider timing stats sorted by provider slug.
func (t *TimingTracker) Snapshot() []ProviderTiming {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ProviderTiming, 0, len(t.stats))
	for provider, st := range t.stats {
		avg := 0.0
		if st.totalCalls > 0 {
			avg = st.totalSeconds / float64(st.totalCalls)
		}
		out = append(out, ProviderTiming{
			Provider:     provider,
			TotalCalls:   st.totalCalls,
			SlowWarn:     st.slowWarn,
			SlowError:    st.slowError,
			SlowCritical: st.slowCritical,
			AvgSeconds:   avg,
			MaxSeconds:   st.maxSeconds,
			LastCall:     st.lastCall,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// SetNowFunc overrides the clock for tests.
func (t *TimingTracker) SetNowFunc(now func() time.Time) { t.now = now }
