package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/client"
	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// CatalogLookup answers whether a model id is currently routable.
type CatalogLookup func(ctx context.Context, modelID string) bool

// GeneralSelection is the general router's decision.
type GeneralSelection struct {
	Model          string `json:"model"`
	Mode           string `json:"mode"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Fallback reasons surfaced on the inspection endpoint.
const (
	FallbackReasonException    = "exception"
	FallbackReasonNotInCatalog = "not_in_catalog"
	FallbackReasonUnmapped     = "unmapped_native_id"
)

// selectorRequest is the external selector wire shape.
type selectorRequest struct {
	Messages   []relaymodel.Message `json:"messages"`
	Candidates []string             `json:"candidate_model_ids"`
	Preference string               `json:"preference"`
}

type selectorResponse struct {
	Model string `json:"model"`
}

// nativeModelMap translates selector-native model ids to gateway ids.
var nativeModelMap = map[string]string{
	"openai/gpt-4o":                "gpt-4o",
	"openai/gpt-4o-mini":           "gpt-4o-mini",
	"anthropic/claude-3.5-sonnet":  "claude-sonnet-4-5",
	"anthropic/claude-sonnet":      "claude-sonnet-4-5",
	"anthropic/claude-haiku":       "claude-haiku-4-5",
	"meta/llama-3.3-70b":           "llama-3.3-70b-versatile",
	"google/gemini-2.5-pro":        "gemini-2.5-pro",
	"google/gemini-2.5-flash":      "gemini-2.5-flash",
	"deepseek/deepseek-chat":       "deepseek-v3",
	"mistralai/mistral-large":      "mistral-large",
}

// modeFallbacks are the known-good models used when selection cannot be
// honored.
var modeFallbacks = map[string]string{
	ModeQuality:  "gpt-4o",
	ModeCost:     "gpt-4o-mini",
	ModeLatency:  "llama-3.3-70b-versatile",
	ModeBalanced: "claude-sonnet-4-5",
}

// FallbackModels returns a copy of the mode fallback table for the router
// inspection endpoint.
func FallbackModels() map[string]string {
	out := make(map[string]string, len(modeFallbacks))
	for mode, model := range modeFallbacks {
		out[mode] = model
	}
	return out
}

// SelectorConfigured reports whether an external selector endpoint is set.
func (g *GeneralRouter) SelectorConfigured() bool { return g.baseURL != "" }

// GeneralRouter delegates model selection for non-code prompts to an
// external selector service, with typed fallbacks when the selector is
// unavailable or returns something unroutable.
type GeneralRouter struct {
	baseURL string
	apiKey  string
	client  *http.Client
	lookup  CatalogLookup

	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGeneralRouter builds the router from configuration. lookup may be nil,
// in which case the catalog check is skipped.
func NewGeneralRouter(lookup CatalogLookup) *GeneralRouter {
	return &GeneralRouter{
		baseURL:     strings.TrimRight(config.SelectorBaseURL, "/"),
		apiKey:      config.SelectorAPIKey,
		lookup:      lookup,
		maxAttempts: 3,
		baseBackoff: time.Second,
		maxBackoff:  10 * time.Second,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "backoff interrupted")
	case <-timer.C:
		return nil
	}
}

func (g *GeneralRouter) httpClient() *http.Client {
	if g.client != nil {
		return g.client
	}
	if client.ImpatientHTTPClient != nil {
		return client.ImpatientHTTPClient
	}
	return http.DefaultClient
}

// Route picks a model for the conversation. Every path returns a usable
// selection; selector failures degrade to the mode fallback.
func (g *GeneralRouter) Route(ctx context.Context, messages []relaymodel.Message, mode string, candidates []string) GeneralSelection {
	if mode == "" {
		mode = ModeBalanced
	}

	if g.baseURL == "" {
		return g.fallback(mode, FallbackReasonException)
	}

	native, err := g.callSelector(ctx, messages, mode, candidates)
	if err != nil {
		logger.Logger.Warn("selector unavailable, using mode fallback",
			zap.String("mode", mode), zap.Error(err))
		return g.fallback(mode, FallbackReasonException)
	}

	model, reason := g.mapNativeID(native)
	if model == "" {
		return g.fallback(mode, FallbackReasonUnmapped)
	}

	if g.lookup != nil && !g.lookup(ctx, model) {
		return g.fallback(mode, FallbackReasonNotInCatalog)
	}

	return GeneralSelection{Model: model, Mode: mode, FallbackReason: reason}
}

func (g *GeneralRouter) fallback(mode, reason string) GeneralSelection {
	return GeneralSelection{Model: modeFallbacks[mode], Mode: mode, FallbackReason: reason}
}

// callSelector performs the selector call with exponential backoff.
func (g *GeneralRouter) callSelector(ctx context.Context, messages []relaymodel.Message, mode string, candidates []string) (string, error) {
	preference := mode
	if preference == ModeBalanced {
		preference = ModeQuality
	}

	payload, err := json.Marshal(selectorRequest{
		Messages:   messages,
		Candidates: candidates,
		Preference: preference,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal selector request")
	}

	var lastErr error
	backoff := g.baseBackoff
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoff); err != nil {
				return "", err
			}
			backoff *= 2
			if backoff > g.maxBackoff {
				backoff = g.maxBackoff
			}
		}

		model, err := g.selectOnce(ctx, payload)
		if err == nil {
			return model, nil
		}
		lastErr = err
	}
	return "", errors.Wrap(lastErr, "selector failed after retries")
}

func (g *GeneralRouter) selectOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/select", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "build selector request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient().Do(req)
	if err != nil {
		return "", errors.Wrap(err, "call selector")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read selector response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("selector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out selectorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.Wrap(err, "decode selector response")
	}
	if out.Model == "" {
		return "", errors.New("selector returned empty model")
	}
	return out.Model, nil
}

// mapNativeID translates the selector's native id into a gateway id: exact
// mapping table first, then keyword heuristics, then empty to signal the
// unmapped fallback.
func (g *GeneralRouter) mapNativeID(native string) (model, reason string) {
	if mapped, ok := nativeModelMap[native]; ok {
		return mapped, ""
	}

	lower := strings.ToLower(native)
	switch {
	case strings.Contains(lower, "gpt") || strings.Contains(lower, "openai"):
		return "gpt-4o", ""
	case strings.Contains(lower, "claude") || strings.Contains(lower, "anthropic"):
		return "claude-sonnet-4-5", ""
	case strings.Contains(lower, "llama"):
		return "llama-3.3-70b-versatile", ""
	case strings.Contains(lower, "gemini"):
		return "gemini-2.5-flash", ""
	case strings.Contains(lower, "deepseek"):
		return "deepseek-v3", ""
	}
	return "", FallbackReasonUnmapped
}
