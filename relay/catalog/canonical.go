package catalog

import (
	"sort"
	"sync"
)

// CanonicalProvider is one gateway's offering of a canonical model.
type CanonicalProvider struct {
	ProviderSlug  string       `json:"provider_slug"`
	NativeModelID string       `json:"native_model_id"`
	ContextLength int          `json:"context_length"`
	Architecture  Architecture `json:"architecture"`
	Pricing       Pricing      `json:"pricing"`
	IsFree        bool         `json:"is_free,omitempty"`
}

// CanonicalModel is the deduplicated identity of a model across gateways.
type CanonicalModel struct {
	CanonicalID string              `json:"canonical_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Providers   []CanonicalProvider `json:"providers"`
}

// CanonicalRegistry is the process-wide canonical model registry, reset at
// the start of each full catalog rebuild. The building flag short-circuits
// re-entrant reads made by enrichers while the catalog they would consult is
// itself being rebuilt.
type CanonicalRegistry struct {
	mu       sync.Mutex
	models   map[string]*CanonicalModel
	building bool
}

// NewCanonicalRegistry builds an empty registry.
func NewCanonicalRegistry() *CanonicalRegistry {
	return &CanonicalRegistry{models: map[string]*CanonicalModel{}}
}

// ResetCanonicalModels clears the registry and marks a rebuild in progress.
func (r *CanonicalRegistry) ResetCanonicalModels() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = map[string]*CanonicalModel{}
	r.building = true
}

// FinishBuild marks the rebuild complete.
func (r *CanonicalRegistry) FinishBuild() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.building = false
}

// Building reports whether a full rebuild is in progress; enrichers use this
// to avoid recursively fetching the catalog they are helping to build.
func (r *CanonicalRegistry) Building() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.building
}

// RegisterCanonicalRecords merges one gateway's records into the registry.
func (r *CanonicalRegistry) RegisterCanonicalRecords(sourceGateway string, records []*ModelRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.CanonicalSlug == "" {
			continue
		}
		cm, ok := r.models[rec.CanonicalSlug]
		if !ok {
			cm = &CanonicalModel{
				CanonicalID: rec.CanonicalSlug,
				Name:        rec.Name,
				Description: rec.Description,
			}
			r.models[rec.CanonicalSlug] = cm
		}
		if cm.Description == "" {
			cm.Description = rec.Description
		}

		provider := CanonicalProvider{
			ProviderSlug:  sourceGateway,
			NativeModelID: rec.ID,
			ContextLength: rec.ContextLength,
			Architecture:  rec.Architecture,
			Pricing:       rec.Pricing,
			IsFree:        rec.IsFree,
		}
		replaced := false
		for i := range cm.Providers {
			if cm.Providers[i].ProviderSlug == provider.ProviderSlug {
				cm.Providers[i] = provider
				replaced = true
				break
			}
		}
		if !replaced {
			cm.Providers = append(cm.Providers, provider)
		}
	}
}

// Get returns the canonical model for id, or nil. Models with no registered
// provider are never advertised.
func (r *CanonicalRegistry) Get(canonicalID string) *CanonicalModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	cm, ok := r.models[canonicalID]
	if !ok || len(cm.Providers) == 0 {
		return nil
	}
	clone := *cm
	clone.Providers = append([]CanonicalProvider(nil), cm.Providers...)
	return &clone
}

// List returns every advertised canonical model sorted by id.
func (r *CanonicalRegistry) List() []*CanonicalModel {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*CanonicalModel, 0, len(r.models))
	for _, cm := range r.models {
		if len(cm.Providers) == 0 {
			continue
		}
		clone := *cm
		clone.Providers = append([]CanonicalProvider(nil), cm.Providers...)
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out
}

// ProvidersFor returns the gateways offering the canonical model, or nil.
func (r *CanonicalRegistry) ProvidersFor(canonicalID string) []CanonicalProvider {
	cm := r.Get(canonicalID)
	if cm == nil {
		return nil
	}
	return cm.Providers
}
