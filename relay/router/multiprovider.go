package router

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
	"github.com/gatewayz/gatewayz/monitor"
	"github.com/gatewayz/gatewayz/relay/adaptor"
	"github.com/gatewayz/gatewayz/relay/breaker"
	"github.com/gatewayz/gatewayz/relay/catalog"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// ModelResolver answers which providers currently offer a canonical model.
// Satisfied by *catalog.CanonicalRegistry.
type ModelResolver interface {
	ProvidersFor(canonicalID string) []catalog.CanonicalProvider
}

// candidate is one resolved provider attempt.
type candidate struct {
	slug          string
	adaptor       adaptor.Adaptor
	nativeModelID string
	pricePerToken float64
}

// MultiProvider resolves a canonical model to an ordered provider list and
// executes requests with failover. Order: explicit preference, then price;
// provider health is enforced at attempt time through the breaker.
type MultiProvider struct {
	resolver ModelResolver
	adaptors map[string]adaptor.Adaptor
	breakers *breaker.Registry
	fallback adaptor.Adaptor
}

// NewMultiProvider wires the router. fallback is the default aggregator
// used for unregistered models and as the last resort.
func NewMultiProvider(resolver ModelResolver, adaptors map[string]adaptor.Adaptor, breakers *breaker.Registry, fallback adaptor.Adaptor) *MultiProvider {
	return &MultiProvider{
		resolver: resolver,
		adaptors: adaptors,
		breakers: breakers,
		fallback: fallback,
	}
}

// Attempt reports one provider try for diagnostics and the dry-run endpoint.
type Attempt struct {
	Provider string `json:"provider"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Result carries the winning response and the failover trail.
type Result struct {
	Response *relaymodel.ChatResponse
	Provider string
	Attempts []Attempt
}

// candidatesFor builds the ordered attempt list for a canonical model.
func (m *MultiProvider) candidatesFor(modelID string) []candidate {
	providers := m.resolver.ProvidersFor(modelID)
	if len(providers) == 0 {
		return nil
	}

	prefRank := map[string]int{}
	for i, slug := range config.PreferredProviders {
		prefRank[slug] = i + 1
	}

	out := make([]candidate, 0, len(providers))
	for _, p := range providers {
		a, ok := m.adaptors[p.ProviderSlug]
		if !ok {
			continue
		}
		price := 0.0
		if p.Pricing.Prompt != nil {
			price += *p.Pricing.Prompt
		}
		if p.Pricing.Completion != nil {
			price += *p.Pricing.Completion
		}
		out = append(out, candidate{
			slug:          p.ProviderSlug,
			adaptor:       a,
			nativeModelID: p.NativeModelID,
			pricePerToken: price,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := prefRank[out[i].slug], prefRank[out[j].slug]
		if ri != rj {
			if ri == 0 {
				return false
			}
			if rj == 0 {
				return true
			}
			return ri < rj
		}
		return out[i].pricePerToken < out[j].pricePerToken
	})
	return out
}

// Execute runs a non-streaming completion with failover per the transient
// classification: timeouts, 5xx, and 429 move on to the next provider;
// other 4xx fail the request immediately.
func (m *MultiProvider) Execute(ctx context.Context, modelID string, req *relaymodel.ChatRequest) (*Result, error) {
	result := &Result{}
	candidates := m.candidatesFor(modelID)

	for _, c := range candidates {
		resp, attempt, err := m.tryProvider(ctx, c, req)
		result.Attempts = append(result.Attempts, attempt)
		if err == nil {
			result.Response = resp
			result.Provider = c.slug
			return result, nil
		}
		if attempt.Skipped {
			continue
		}
		if !isTransient(err) {
			return result, err
		}
		if ctx.Err() != nil {
			return result, errors.Wrap(ctx.Err(), "request canceled during failover")
		}
	}

	// Registry exhausted or model unknown: default aggregator with the
	// original model id.
	resp, attempt, err := m.tryProvider(ctx, candidate{
		slug:          m.fallback.Name(),
		adaptor:       m.fallback,
		nativeModelID: modelID,
	}, req)
	result.Attempts = append(result.Attempts, attempt)
	if err != nil {
		return result, err
	}
	result.Response = resp
	result.Provider = m.fallback.Name()
	return result, nil
}

// ExecuteStream starts a stream on the best available provider. Streams are
// never failed over mid-flight, so only provider selection is retried: a
// provider that refuses the stream before emitting counts as a failed
// attempt and the next one is tried.
func (m *MultiProvider) ExecuteStream(ctx context.Context, modelID string, req *relaymodel.ChatRequest) (<-chan adaptor.StreamEvent, string, error) {
	candidates := m.candidatesFor(modelID)
	candidates = append(candidates, candidate{
		slug:          m.fallback.Name(),
		adaptor:       m.fallback,
		nativeModelID: modelID,
	})

	var lastErr error
	for _, c := range candidates {
		if skip, wait := m.breakers.ShouldSkip(c.slug); skip {
			logger.Logger.Debug("skipping provider with open breaker",
				zap.String("provider", c.slug), zap.Duration("retry_in", wait))
			continue
		}

		streamReq := *req
		streamReq.Model = c.nativeModelID

		start := time.Now()
		events, err := c.adaptor.ChatCompletionStream(ctx, &streamReq)
		metrics.GlobalRecorder.RecordProviderCall(start, c.slug, modelID, err == nil)
		if err == nil {
			m.breakers.RecordSuccess(c.slug)
			return events, c.slug, nil
		}

		m.recordFailure(c.slug, err)
		lastErr = err
		if !isTransient(err) {
			return nil, "", err
		}
	}

	if lastErr == nil {
		lastErr = relaymodel.NewError(http.StatusServiceUnavailable,
			relaymodel.CodeProviderUnavailable, "no provider available for "+modelID)
	}
	return nil, "", lastErr
}

func (m *MultiProvider) tryProvider(ctx context.Context, c candidate, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, Attempt, error) {
	attempt := Attempt{Provider: c.slug}

	if skip, wait := m.breakers.ShouldSkip(c.slug); skip {
		attempt.Skipped = true
		logger.Logger.Debug("skipping provider with open breaker",
			zap.String("provider", c.slug), zap.Duration("retry_in", wait))
		return nil, attempt, errors.Errorf("provider %s skipped", c.slug)
	}

	providerReq := *req
	providerReq.Model = c.nativeModelID

	start := time.Now()
	resp, err := c.adaptor.ChatCompletion(ctx, &providerReq)
	elapsed := time.Since(start)

	monitor.Timing.Observe(c.slug, elapsed)
	metrics.GlobalRecorder.RecordProviderCall(start, c.slug, req.Model, err == nil)

	if err != nil {
		attempt.Error = err.Error()
		m.recordFailure(c.slug, err)
		return nil, attempt, err
	}

	m.breakers.RecordSuccess(c.slug)
	resp.ProviderUsed = c.slug
	return resp, attempt, nil
}

func (m *MultiProvider) recordFailure(slug string, err error) {
	m.breakers.RecordFailure(slug)

	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
		switch seconds := apiErr.Details["retry_after_seconds"].(type) {
		case int:
			m.breakers.SetRetryAfter(slug, time.Duration(seconds)*time.Second)
		case float64:
			m.breakers.SetRetryAfter(slug, time.Duration(seconds*float64(time.Second)))
		}
	}
}

// isTransient classifies an attempt failure for the failover decision.
// Transport errors without an HTTP status (timeouts, connection resets)
// count as transient.
func isTransient(err error) bool {
	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) {
		return relaymodel.IsTransientStatus(apiErr.Status)
	}
	return true
}
