package catalog

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/semaphore"

	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// Options configures an Aggregator.
type Options struct {
	Gateways  []*Gateway
	Breakers  BreakerRegistry
	Registry  *CanonicalRegistry
	Overlay   PricingOverlay
	Snapshots SnapshotStore
	Client    *http.Client

	Workers        int
	PerTimeout     time.Duration
	OverallTimeout time.Duration
	TTL            time.Duration
	StaleTTL       time.Duration
	RefreshWorkers int

	// SyncLog, when set, records the outcome of every live gateway fetch.
	SyncLog func(gateway string, models int, succeeded bool, message string)
}

// BreakerRegistry is the slice of the circuit-breaker registry the
// aggregator needs.
type BreakerRegistry interface {
	ShouldSkip(provider string) (bool, time.Duration)
	RecordSuccess(provider string)
	RecordFailure(provider string)
	ReleaseProbe(provider string)
	SetRetryAfter(provider string, d time.Duration)
}

// Aggregator produces the unified model list across all active gateways,
// fanning fetches out to a bounded worker pool and merging results in
// completion order.
type Aggregator struct {
	gateways  []*Gateway
	breakers  BreakerRegistry
	registry  *CanonicalRegistry
	overlay   PricingOverlay
	snapshots SnapshotStore
	client    *http.Client

	workers        int64
	perTimeout     time.Duration
	overallTimeout time.Duration
	syncLog        func(gateway string, models int, succeeded bool, message string)

	gatewayCaches map[string]*Cache[[]*ModelRecord]
	merged        *Cache[[]*ModelRecord]
}

// New builds an Aggregator with per-gateway SWR caches and a merged-list
// cache.
func New(opts Options) *Aggregator {
	if opts.Workers <= 0 {
		opts.Workers = 12
	}
	if opts.PerTimeout <= 0 {
		opts.PerTimeout = 15 * time.Second
	}
	if opts.OverallTimeout <= 0 {
		opts.OverallTimeout = 30 * time.Second
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = 2 * opts.TTL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.PerTimeout}
	}
	if opts.Registry == nil {
		opts.Registry = NewCanonicalRegistry()
	}

	pool := NewRefreshPool(opts.RefreshWorkers)
	a := &Aggregator{
		gateways:       opts.Gateways,
		breakers:       opts.Breakers,
		registry:       opts.Registry,
		overlay:        opts.Overlay,
		snapshots:      opts.Snapshots,
		client:         opts.Client,
		workers:        int64(opts.Workers),
		perTimeout:     opts.PerTimeout,
		overallTimeout: opts.OverallTimeout,
		syncLog:        opts.SyncLog,
		gatewayCaches:  make(map[string]*Cache[[]*ModelRecord], len(opts.Gateways)),
	}
	for _, g := range opts.Gateways {
		a.gatewayCaches[g.Slug] = NewCache[[]*ModelRecord](g.Slug, opts.TTL, opts.StaleTTL, pool)
	}
	a.merged = NewCache[[]*ModelRecord]("all", opts.TTL, opts.StaleTTL, pool)
	return a
}

// Registry exposes the canonical registry.
func (a *Aggregator) Registry() *CanonicalRegistry { return a.registry }

// GetAllModels returns the merged catalog, rebuilding it when the cache is
// cold and serving stale data with a background refresh inside the stale
// window.
func (a *Aggregator) GetAllModels(ctx context.Context) ([]*ModelRecord, error) {
	return a.merged.Get(ctx, a.rebuild)
}

// Lookup finds a model by exact id across the current catalog. It consults
// only cached data while a rebuild is in progress to avoid re-entrance.
func (a *Aggregator) Lookup(ctx context.Context, modelID string) *ModelRecord {
	var records []*ModelRecord
	if a.registry.Building() {
		records, _ = a.merged.Peek()
	} else {
		records, _ = a.GetAllModels(ctx)
	}
	for _, rec := range records {
		if rec.ID == modelID {
			return rec
		}
	}
	return nil
}

type fetchResult struct {
	slug    string
	records []*ModelRecord
	err     error
}

// rebuild fans out one fetch per candidate gateway and merges results as
// they complete. The canonical registry is reset before the fan-out and
// fed after each gateway returns.
func (a *Aggregator) rebuild(ctx context.Context) ([]*ModelRecord, error) {
	start := time.Now()
	a.registry.ResetCanonicalModels()
	defer a.registry.FinishBuild()

	candidates := a.candidateGateways()
	if len(candidates) == 0 {
		return nil, errors.New("no catalog gateways available")
	}

	ctx, cancel := context.WithTimeout(ctx, a.overallTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(a.workers)
	results := make(chan fetchResult, len(candidates))

	for _, g := range candidates {
		g := g
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				// A half-open probe claimed in candidateGateways must not stay
				// in flight when the fetch never happens.
				if a.breakers != nil {
					a.breakers.ReleaseProbe(g.Slug)
				}
				results <- fetchResult{slug: g.Slug, err: errors.Wrap(&FetchError{Kind: FailureTimeout, Err: err}, "acquire worker")}
				return
			}
			defer sem.Release(1)
			records, err := a.fetchGateway(ctx, g)
			results <- fetchResult{slug: g.Slug, records: records, err: err}
		}()
	}

	var merged []*ModelRecord
	succeeded := 0
	for range candidates {
		select {
		case res := <-results:
			if res.err != nil && len(res.records) == 0 {
				continue
			}
			merged = append(merged, res.records...)
			a.registry.RegisterCanonicalRecords(res.slug, res.records)
			succeeded++
		case <-ctx.Done():
			// Overdue gateways count as timeout failures; whatever merged
			// so far is still usable.
			logger.Logger.Warn("catalog rebuild deadline reached",
				zap.Int("collected", succeeded),
				zap.Int("candidates", len(candidates)))
			if len(merged) == 0 {
				return nil, errors.Wrap(ctx.Err(), "catalog rebuild timed out with no data")
			}
			logger.Logger.Info("catalog rebuilt (partial)",
				zap.Int("models", len(merged)),
				zap.Duration("took", time.Since(start)))
			return merged, nil
		}
	}

	if len(merged) == 0 {
		return nil, errors.New("every gateway fetch failed")
	}
	logger.Logger.Info("catalog rebuilt",
		zap.Int("models", len(merged)),
		zap.Int("gateways", succeeded),
		zap.Duration("took", time.Since(start)))
	return merged, nil
}

// candidateGateways filters out disabled gateways and those skipped by
// their breaker or retry-after deadline.
func (a *Aggregator) candidateGateways() []*Gateway {
	var out []*Gateway
	for _, g := range a.gateways {
		if !g.Enabled() {
			continue
		}
		if a.breakers != nil {
			if skip, remaining := a.breakers.ShouldSkip(g.Slug); skip {
				logger.Logger.Info("skipping gateway",
					zap.String("gateway", g.Slug),
					zap.Duration("retry_in", remaining))
				continue
			}
		}
		out = append(out, g)
	}
	return out
}

// fetchGateway reads one gateway through its SWR cache, recording breaker
// outcomes and error state on live-fetch failures. When the cache answers
// without running the fetch, any half-open probe claimed for this gateway is
// returned so the breaker does not wedge.
func (a *Aggregator) fetchGateway(ctx context.Context, g *Gateway) ([]*ModelRecord, error) {
	cache := a.gatewayCaches[g.Slug]
	var fetched atomic.Bool
	records, err := cache.Get(ctx, func(ctx context.Context) ([]*ModelRecord, error) {
		fetched.Store(true)
		fetchCtx, cancel := context.WithTimeout(ctx, a.perTimeout)
		defer cancel()

		start := time.Now()
		records, fromFallback, err := g.FetchWithFallback(fetchCtx, a.client, a.overlay, a.snapshots)
		if err != nil {
			fe := ClassifyError(err)
			if a.breakers != nil {
				a.breakers.RecordFailure(g.Slug)
				if fe.RetryAfter > 0 {
					a.breakers.SetRetryAfter(g.Slug, fe.RetryAfter)
				}
			}
			if fe.QuotaExceeded && fe.RetryAfter > 0 {
				cache.SetError(fe.Error(), fe.RetryAfter)
			}
			metrics.GlobalRecorder.RecordCatalogFetch(start, g.Slug, false, string(fe.Kind))
			if a.syncLog != nil {
				a.syncLog(g.Slug, len(records), false, fe.Error())
			}
			logger.Logger.Warn("gateway fetch failed",
				zap.String("gateway", g.Slug),
				zap.String("failure", string(fe.Kind)),
				zap.Bool("served_fallback", fromFallback),
				zap.Error(err))
			if fromFallback {
				return records, nil
			}
			return nil, err
		}

		if a.breakers != nil {
			a.breakers.RecordSuccess(g.Slug)
		}
		metrics.GlobalRecorder.RecordCatalogFetch(start, g.Slug, true, "")
		if a.syncLog != nil {
			a.syncLog(g.Slug, len(records), true, "")
		}
		return records, nil
	})
	if !fetched.Load() && a.breakers != nil {
		a.breakers.ReleaseProbe(g.Slug)
	}
	return records, err
}

// InvalidateGateway drops one gateway's cache; admin hook.
func (a *Aggregator) InvalidateGateway(slug string) {
	if c, ok := a.gatewayCaches[slug]; ok {
		c.Clear()
	}
	a.merged.Clear()
}
