package breaker

import (
	"sync"
	"time"
)

// State snapshot for one provider, exposed to diagnostics.
type State struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int64     `json:"total_failures"`
	TotalRequests       int64     `json:"total_requests"`
	LastFailureTime     time.Time `json:"last_failure_time"`
	LastSuccessTime     time.Time `json:"last_success_time"`
	IsOpen              bool      `json:"is_open"`
}

type entry struct {
	consecutiveFailures int
	totalFailures       int64
	totalRequests       int64
	lastFailureTime     time.Time
	lastSuccessTime     time.Time
	open                bool
	halfOpenInFlight    bool
}

// Registry keeps one circuit breaker per provider plus a retry-after
// deadline map populated from upstream 429 responses. All state lives under
// a single lock.
type Registry struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	entries    map[string]*entry
	retryAfter map[string]time.Time

	now func() time.Time
}

// NewRegistry builds a Registry. failureThreshold consecutive failures open
// a breaker; after recoveryTimeout a single half-open probe is allowed.
func NewRegistry(failureThreshold int, recoveryTimeout time.Duration) *Registry {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 300 * time.Second
	}
	return &Registry{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		entries:          map[string]*entry{},
		retryAfter:       map[string]time.Time{},
		now:              time.Now,
	}
}

func (r *Registry) get(provider string) *entry {
	e, ok := r.entries[provider]
	if !ok {
		e = &entry{}
		r.entries[provider] = e
	}
	return e
}

// ShouldSkip reports whether the provider must be skipped, and for how much
// longer. A provider is skipped while its breaker is open (before the
// recovery timeout) or while a retry-after deadline has not elapsed. The
// first caller after the recovery timeout is granted the half-open probe;
// concurrent callers keep being skipped until the probe resolves.
func (r *Registry) ShouldSkip(provider string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if until, ok := r.retryAfter[provider]; ok {
		if now.Before(until) {
			return true, until.Sub(now)
		}
		delete(r.retryAfter, provider)
	}

	e := r.get(provider)
	if !e.open {
		return false, 0
	}

	elapsed := now.Sub(e.lastFailureTime)
	if elapsed < r.recoveryTimeout {
		return true, r.recoveryTimeout - elapsed
	}

	// Half-open: one probe at a time.
	if e.halfOpenInFlight {
		return true, 0
	}
	e.halfOpenInFlight = true
	return false, 0
}

// RecordSuccess closes the breaker (if probing) and zeroes the consecutive
// failure counter. Calling it on an already-closed breaker only bumps
// counters.
func (r *Registry) RecordSuccess(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	e.totalRequests++
	e.consecutiveFailures = 0
	e.lastSuccessTime = r.now()
	e.open = false
	e.halfOpenInFlight = false
}

// RecordFailure counts a failure. In closed state it opens the breaker once
// the threshold is reached; a failed half-open probe re-opens with a fresh
// failure timestamp; in plain open state it only updates counters.
func (r *Registry) RecordFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	e.totalRequests++
	e.totalFailures++

	if e.open && !e.halfOpenInFlight {
		// Already open and not probing: counters only.
		return
	}

	if e.halfOpenInFlight {
		e.halfOpenInFlight = false
		e.open = true
		e.lastFailureTime = r.now()
		return
	}

	e.consecutiveFailures++
	e.lastFailureTime = r.now()
	if e.consecutiveFailures >= r.failureThreshold {
		e.open = true
	}
}

// ReleaseProbe returns an unused half-open probe claim without recording an
// outcome, for callers that claimed the probe but never reached the provider
// (e.g. the request was served from cache). The next caller may claim it
// again.
func (r *Registry) ReleaseProbe(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(provider).halfOpenInFlight = false
}

// SetRetryAfter records a per-provider skip-until deadline from an upstream
// Retry-After header.
func (r *Registry) SetRetryAfter(provider string, d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryAfter[provider] = r.now().Add(d)
}

// StateOf returns a snapshot of the provider's breaker state.
func (r *Registry) StateOf(provider string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.get(provider)
	return State{
		ConsecutiveFailures: e.consecutiveFailures,
		TotalFailures:       e.totalFailures,
		TotalRequests:       e.totalRequests,
		LastFailureTime:     e.lastFailureTime,
		LastSuccessTime:     e.lastSuccessTime,
		IsOpen:              e.open,
	}
}

// Snapshot returns state for every provider seen so far.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.entries))
	for provider, e := range r.entries {
		out[provider] = State{
			ConsecutiveFailures: e.consecutiveFailures,
			TotalFailures:       e.totalFailures,
			TotalRequests:       e.totalRequests,
			LastFailureTime:     e.lastFailureTime,
			LastSuccessTime:     e.lastSuccessTime,
			IsOpen:              e.open,
		}
	}
	return out
}

// SetNowFunc overrides the clock; test helper.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}
