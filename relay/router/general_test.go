package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// newSelectorRouter builds a GeneralRouter pointed at a test server with an
// instant no-op sleep so retry tests do not wait out real backoff.
func newSelectorRouter(srv *httptest.Server, lookup CatalogLookup) (*GeneralRouter, *[]time.Duration) {
	var slept []time.Duration
	r := &GeneralRouter{
		baseURL:     srv.URL,
		apiKey:      "sk-selector-test",
		client:      srv.Client(),
		lookup:      lookup,
		maxAttempts: 3,
		baseBackoff: time.Second,
		maxBackoff:  10 * time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return r, &slept
}

func selectorReply(model string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(selectorResponse{Model: model})
	}
}

func TestGeneralRouteSelectsAndMaps(t *testing.T) {
	var gotReq selectorRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(selectorResponse{Model: "openai/gpt-4o"})
	}))
	defer srv.Close()

	r, _ := newSelectorRouter(srv, nil)
	sel := r.Route(context.Background(),
		[]relaymodel.Message{userMsg("compare these two poems")},
		ModeBalanced, []string{"gpt-4o", "claude-sonnet-4-5"})

	assert.Equal(t, "gpt-4o", sel.Model)
	assert.Equal(t, ModeBalanced, sel.Mode)
	assert.Empty(t, sel.FallbackReason)

	assert.Equal(t, "Bearer sk-selector-test", gotAuth)
	assert.Equal(t, []string{"gpt-4o", "claude-sonnet-4-5"}, gotReq.Candidates)
	// Balanced is expressed to the selector as a quality preference.
	assert.Equal(t, ModeQuality, gotReq.Preference)
}

func TestGeneralRouteHeuristicMapping(t *testing.T) {
	tests := []struct {
		native string
		want   string
	}{
		{"anthropic/claude-omega-preview", "claude-sonnet-4-5"},
		{"openai/gpt-5-experimental", "gpt-4o"},
		{"meta-llama/llama-4-scout", "llama-3.3-70b-versatile"},
		{"google/gemini-3-nano", "gemini-2.5-flash"},
		{"deepseek/deepseek-r2", "deepseek-v3"},
	}

	for _, tc := range tests {
		t.Run(tc.native, func(t *testing.T) {
			srv := httptest.NewServer(selectorReply(tc.native))
			defer srv.Close()

			r, _ := newSelectorRouter(srv, nil)
			sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeBalanced, nil)
			assert.Equal(t, tc.want, sel.Model)
			assert.Empty(t, sel.FallbackReason)
		})
	}
}

func TestGeneralRouteUnmappedNativeID(t *testing.T) {
	srv := httptest.NewServer(selectorReply("acme/quantum-chat-9000"))
	defer srv.Close()

	r, _ := newSelectorRouter(srv, nil)
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeCost, nil)

	assert.Equal(t, FallbackReasonUnmapped, sel.FallbackReason)
	assert.Equal(t, modeFallbacks[ModeCost], sel.Model)
}

func TestGeneralRouteNotInCatalog(t *testing.T) {
	srv := httptest.NewServer(selectorReply("openai/gpt-4o"))
	defer srv.Close()

	lookup := func(_ context.Context, modelID string) bool { return false }
	r, _ := newSelectorRouter(srv, lookup)
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeLatency, nil)

	assert.Equal(t, FallbackReasonNotInCatalog, sel.FallbackReason)
	assert.Equal(t, modeFallbacks[ModeLatency], sel.Model)
}

func TestGeneralRouteRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(selectorResponse{Model: "openai/gpt-4o-mini"})
	}))
	defer srv.Close()

	r, slept := newSelectorRouter(srv, nil)
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeBalanced, nil)

	assert.Equal(t, "gpt-4o-mini", sel.Model)
	assert.Empty(t, sel.FallbackReason)
	assert.Equal(t, int32(3), calls.Load())
	// Exponential: 1s before the second attempt, 2s before the third.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestGeneralRouteExhaustedRetriesFallsBack(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, _ := newSelectorRouter(srv, nil)
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeQuality, nil)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, FallbackReasonException, sel.FallbackReason)
	assert.Equal(t, modeFallbacks[ModeQuality], sel.Model)
}

func TestGeneralRouteNoSelectorConfigured(t *testing.T) {
	r := &GeneralRouter{maxAttempts: 3, sleep: sleepCtx}
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, "", nil)

	assert.Equal(t, FallbackReasonException, sel.FallbackReason)
	assert.Equal(t, ModeBalanced, sel.Mode)
	assert.Equal(t, modeFallbacks[ModeBalanced], sel.Model)
}

func TestGeneralRouteBackoffCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, slept := newSelectorRouter(srv, nil)
	r.maxAttempts = 6
	r.maxBackoff = 3 * time.Second
	_ = r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeBalanced, nil)

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second,
	}, *slept)
}

func TestGeneralRouteEmptySelectorModel(t *testing.T) {
	srv := httptest.NewServer(selectorReply(""))
	defer srv.Close()

	r, _ := newSelectorRouter(srv, nil)
	sel := r.Route(context.Background(), []relaymodel.Message{userMsg("hi")}, ModeBalanced, nil)
	assert.Equal(t, FallbackReasonException, sel.FallbackReason)
}

func TestModeFallbackTable(t *testing.T) {
	assert.Equal(t, "gpt-4o", modeFallbacks[ModeQuality])
	assert.Equal(t, "gpt-4o-mini", modeFallbacks[ModeCost])
	assert.Equal(t, "llama-3.3-70b-versatile", modeFallbacks[ModeLatency])
	assert.Equal(t, "claude-sonnet-4-5", modeFallbacks[ModeBalanced])
}
