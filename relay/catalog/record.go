package catalog

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// PriceUnit is the unit a gateway publishes its prices in. Every fetcher
// converts to per-single-token USD decimals before any handler code sees a
// record.
type PriceUnit int

const (
	UnitPerToken PriceUnit = iota
	UnitPerThousandTokens
	UnitPerMillionTokens
	UnitCentsPerToken
)

// ToPerToken converts a price in the unit to per-single-token USD.
func (u PriceUnit) ToPerToken(v float64) float64 {
	switch u {
	case UnitPerThousandTokens:
		return v / 1e3
	case UnitPerMillionTokens:
		return v / 1e6
	case UnitCentsPerToken:
		return v / 100
	default:
		return v
	}
}

// FlexFloat unmarshals from a JSON number, a numeric string, or null.
// Gateways disagree on whether prices are numbers or strings.
type FlexFloat struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Valid = false
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		f.Valid = false
		return nil //nolint:nilerr // unparseable price means unknown, not fatal
	}
	f.Value = v
	f.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Pricing holds per-single-token USD decimals; nil fields mean unknown.
type Pricing struct {
	Prompt            *float64 `json:"prompt"`
	Completion        *float64 `json:"completion"`
	Request           *float64 `json:"request,omitempty"`
	Image             *float64 `json:"image,omitempty"`
	WebSearch         *float64 `json:"web_search,omitempty"`
	InternalReasoning *float64 `json:"internal_reasoning,omitempty"`
}

// HasNegative reports whether any known price component is negative, the
// marker gateways use for dynamic pricing.
func (p *Pricing) HasNegative() bool {
	for _, v := range []*float64{p.Prompt, p.Completion, p.Request, p.Image, p.WebSearch, p.InternalReasoning} {
		if v != nil && *v < 0 {
			return true
		}
	}
	return false
}

// IsZero reports whether both prompt and completion prices are known and
// zero.
func (p *Pricing) IsZero() bool {
	return p.Prompt != nil && p.Completion != nil && *p.Prompt == 0 && *p.Completion == 0
}

// Usable reports whether the record carries finite, non-negative prompt and
// completion prices that can back a charge.
func (p *Pricing) Usable() bool {
	for _, v := range []*float64{p.Prompt, p.Completion} {
		if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
			return false
		}
	}
	return true
}

// Architecture describes model modality and tokenizer metadata.
type Architecture struct {
	Modality         string   `json:"modality,omitempty"`
	InputModalities  []string `json:"input_modalities,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
	Tokenizer        string   `json:"tokenizer,omitempty"`
	InstructType     string   `json:"instruct_type,omitempty"`
}

// ModelRecord is the canonical, gateway-neutral description of one model.
type ModelRecord struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	CanonicalSlug string `json:"canonical_slug"`
	// ProviderSlug is the entity actually running the model, usually the
	// id prefix; SourceGateway is who we fetched the record from.
	ProviderSlug  string `json:"provider_slug"`
	SourceGateway string `json:"source_gateway"`

	ContextLength       int            `json:"context_length"`
	Architecture        Architecture   `json:"architecture"`
	SupportedParameters []string       `json:"supported_parameters,omitempty"`
	DefaultParameters   map[string]any `json:"default_parameters,omitempty"`

	Pricing Pricing `json:"pricing"`
	IsFree  bool    `json:"is_free,omitempty"`

	Name            string `json:"name,omitempty"`
	Description     string `json:"description,omitempty"`
	ModelLogoURL    string `json:"model_logo_url,omitempty"`
	ProviderSiteURL string `json:"provider_site_url,omitempty"`
}

// RawModel is the loosely-typed shape fetchers parse gateway listings into
// before normalization.
type RawModel struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Description   string     `json:"description,omitempty"`
	ContextLength int        `json:"context_length,omitempty"`
	MaxTokens     int        `json:"max_tokens,omitempty"`
	Pricing       RawPricing `json:"pricing"`

	Architecture        *Architecture  `json:"architecture,omitempty"`
	SupportedParameters []string       `json:"supported_parameters,omitempty"`
	DefaultParameters   map[string]any `json:"default_parameters,omitempty"`
}

// RawPricing tolerates string or numeric prices in the gateway's native
// unit.
type RawPricing struct {
	Prompt            FlexFloat `json:"prompt"`
	Completion        FlexFloat `json:"completion"`
	Input             FlexFloat `json:"input"`
	Output            FlexFloat `json:"output"`
	Request           FlexFloat `json:"request"`
	Image             FlexFloat `json:"image"`
	WebSearch         FlexFloat `json:"web_search"`
	InternalReasoning FlexFloat `json:"internal_reasoning"`
}

func (rp *RawPricing) promptValue() (float64, bool) {
	if rp.Prompt.Valid {
		return rp.Prompt.Value, true
	}
	if rp.Input.Valid {
		return rp.Input.Value, true
	}
	return 0, false
}

func (rp *RawPricing) completionValue() (float64, bool) {
	if rp.Completion.Valid {
		return rp.Completion.Value, true
	}
	if rp.Output.Valid {
		return rp.Output.Value, true
	}
	return 0, false
}

// PricingOverlay overrides prompt/completion prices per model id. Values
// are already per-single-token.
type PricingOverlay interface {
	Override(modelID string) (prompt, completion *float64)
}

// NormalizeOptions configures NormalizeRawModel per gateway.
type NormalizeOptions struct {
	SourceGateway  string
	Unit           PriceUnit
	ContextDefault int
	// FreeAllowlisted marks legitimately free models that survive the
	// zero-price drop (e.g. OpenRouter ":free" variants).
	FreeAllowlisted func(id string) bool
	Overlay         PricingOverlay
}

// NormalizeRawModel maps a gateway entry to a ModelRecord, applying the
// common rules: provider slug from the id prefix, price conversion to
// per-single-token decimals, dynamic-priced (negative) models dropped,
// zero-priced models dropped unless free-allowlisted, context default, and
// the manual-pricing overlay. The second return value is false when the
// model must be excluded.
func NormalizeRawModel(raw *RawModel, opts NormalizeOptions) (*ModelRecord, bool) {
	if raw == nil || strings.TrimSpace(raw.ID) == "" {
		return nil, false
	}

	id := strings.TrimSpace(raw.ID)
	rec := &ModelRecord{
		ID:            id,
		SourceGateway: opts.SourceGateway,
		Name:          raw.Name,
		Description:   raw.Description,
		ContextLength: raw.ContextLength,
	}
	if rec.ContextLength <= 0 {
		rec.ContextLength = opts.ContextDefault
	}
	if rec.ContextLength <= 0 {
		rec.ContextLength = DefaultContextLength
	}

	if raw.Architecture != nil {
		rec.Architecture = *raw.Architecture
	}
	rec.SupportedParameters = raw.SupportedParameters
	rec.DefaultParameters = raw.DefaultParameters

	if p, ok := raw.Pricing.promptValue(); ok {
		v := opts.Unit.ToPerToken(p)
		rec.Pricing.Prompt = &v
	}
	if cpl, ok := raw.Pricing.completionValue(); ok {
		v := opts.Unit.ToPerToken(cpl)
		rec.Pricing.Completion = &v
	}
	if raw.Pricing.Request.Valid {
		v := opts.Unit.ToPerToken(raw.Pricing.Request.Value)
		rec.Pricing.Request = &v
	}
	if raw.Pricing.Image.Valid {
		v := opts.Unit.ToPerToken(raw.Pricing.Image.Value)
		rec.Pricing.Image = &v
	}
	if raw.Pricing.WebSearch.Valid {
		v := opts.Unit.ToPerToken(raw.Pricing.WebSearch.Value)
		rec.Pricing.WebSearch = &v
	}
	if raw.Pricing.InternalReasoning.Valid {
		v := opts.Unit.ToPerToken(raw.Pricing.InternalReasoning.Value)
		rec.Pricing.InternalReasoning = &v
	}

	if opts.Overlay != nil {
		if prompt, completion := opts.Overlay.Override(id); prompt != nil || completion != nil {
			if prompt != nil {
				p := *prompt
				rec.Pricing.Prompt = &p
			}
			if completion != nil {
				cpl := *completion
				rec.Pricing.Completion = &cpl
			}
		}
	}

	// Negative price components mark dynamic pricing; those models are
	// excluded entirely.
	if rec.Pricing.HasNegative() {
		return nil, false
	}

	// Free models drain credits on misconfigured catalogs, so both-zero
	// pricing is dropped unless the gateway explicitly allowlists it.
	if rec.Pricing.IsZero() {
		if opts.FreeAllowlisted == nil || !opts.FreeAllowlisted(id) {
			return nil, false
		}
		rec.IsFree = true
	}

	Normalize(rec)
	return rec, true
}

// DefaultContextLength applies when a gateway reports no context window.
const DefaultContextLength = 4096

// Normalize canonicalizes identity fields in place. It is idempotent:
// normalizing a record twice yields an equal record.
func Normalize(rec *ModelRecord) {
	rec.ID = strings.TrimSpace(rec.ID)
	rec.Slug = slugify(rec.ID)

	if idx := strings.Index(rec.ID, "/"); idx > 0 {
		rec.ProviderSlug = strings.ToLower(rec.ID[:idx])
	} else if rec.ProviderSlug == "" {
		rec.ProviderSlug = rec.SourceGateway
	}

	canonical := rec.ID
	if idx := strings.Index(canonical, "/"); idx > 0 {
		canonical = canonical[idx+1:]
	}
	// Variant suffixes (":free", ":extended") do not change identity.
	if idx := strings.Index(canonical, ":"); idx > 0 {
		canonical = canonical[:idx]
	}
	rec.CanonicalSlug = slugify(canonical)

	if rec.ContextLength <= 0 {
		rec.ContextLength = DefaultContextLength
	}
	if rec.Name == "" {
		rec.Name = rec.ID
	}
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// ParseListing accepts either a bare JSON list of models or the common
// `{"data": [...]}` envelope. Entries without an id are dropped by the
// caller during normalization; a payload that is neither shape is an error.
func ParseListing(body []byte) ([]RawModel, error) {
	var envelope struct {
		Data []RawModel `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}
	var list []RawModel
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, err
	}
	return list, nil
}
