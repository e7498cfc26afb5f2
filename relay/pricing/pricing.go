package pricing

import (
	"context"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/relay/catalog"
)

// Price source labels, recorded on usage rows for auditability.
const (
	SourceOverride = "override"
	SourceCatalog  = "catalog"
	SourceFallback = "fallback"
)

// ModelPrice is the resolved per-single-token USD price for one model.
type ModelPrice struct {
	PromptUSD     float64 `json:"prompt_usd"`
	CompletionUSD float64 `json:"completion_usd"`
	Source        string  `json:"source"`
	IsFree        bool    `json:"is_free,omitempty"`
}

// CatalogLookup finds a model record by exact id, or nil.
type CatalogLookup func(ctx context.Context, modelID string) *catalog.ModelRecord

// Resolver turns a model id into billable prices. Resolution order: manual
// override, catalog record, flat fallback rate.
type Resolver struct {
	lookup       CatalogLookup
	overlay      catalog.PricingOverlay
	fallbackRate float64
}

// NewResolver builds a Resolver. overlay may be nil when no manual pricing
// table is wired.
func NewResolver(lookup CatalogLookup, overlay catalog.PricingOverlay) *Resolver {
	return &Resolver{
		lookup:       lookup,
		overlay:      overlay,
		fallbackRate: config.FallbackTokenRateUSD,
	}
}

// PriceFor resolves the price for modelID. It never fails: an unknown model
// bills at the flat fallback rate so accounting stays monotone even when the
// catalog is cold.
func (r *Resolver) PriceFor(ctx context.Context, modelID string) ModelPrice {
	if r.overlay != nil {
		prompt, completion := r.overlay.Override(modelID)
		if prompt != nil && completion != nil {
			return ModelPrice{PromptUSD: *prompt, CompletionUSD: *completion, Source: SourceOverride}
		}
	}

	if r.lookup != nil {
		if rec := r.lookup(ctx, modelID); rec != nil {
			if rec.IsFree {
				return ModelPrice{Source: SourceCatalog, IsFree: true}
			}
			if rec.Pricing.Usable() {
				return ModelPrice{
					PromptUSD:     *rec.Pricing.Prompt,
					CompletionUSD: *rec.Pricing.Completion,
					Source:        SourceCatalog,
				}
			}
		}
	}

	return ModelPrice{PromptUSD: r.fallbackRate, CompletionUSD: r.fallbackRate, Source: SourceFallback}
}

// Cost computes the exact charge for a completed request.
func Cost(price ModelPrice, promptTokens, completionTokens int) float64 {
	if price.IsFree {
		return 0
	}
	return float64(promptTokens)*price.PromptUSD + float64(completionTokens)*price.CompletionUSD
}

// InputCost computes the prompt-side share of the charge.
func InputCost(price ModelPrice, promptTokens int) float64 {
	if price.IsFree {
		return 0
	}
	return float64(promptTokens) * price.PromptUSD
}

// OutputCost computes the completion-side share of the charge.
func OutputCost(price ModelPrice, completionTokens int) float64 {
	if price.IsFree {
		return 0
	}
	return float64(completionTokens) * price.CompletionUSD
}

// MaxCost computes the worst-case charge used by the pre-flight credit
// check: all input tokens plus the full output budget at the resolved price.
func (r *Resolver) MaxCost(ctx context.Context, modelID string, inputTokens, maxOutputTokens int) (float64, ModelPrice) {
	price := r.PriceFor(ctx, modelID)
	return Cost(price, inputTokens, maxOutputTokens), price
}
