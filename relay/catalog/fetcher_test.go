package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySnapshots struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	savedAt   map[string]time.Time
}

func newMemorySnapshots() *memorySnapshots {
	return &memorySnapshots{snapshots: map[string][]byte{}, savedAt: map[string]time.Time{}}
}

func (m *memorySnapshots) LoadSnapshot(gateway string) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.snapshots[gateway]
	if !ok {
		return nil, time.Time{}, errors.Errorf("no snapshot for %s", gateway)
	}
	return payload, m.savedAt[gateway], nil
}

func (m *memorySnapshots) SaveSnapshot(gateway string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[gateway] = payload
	m.savedAt[gateway] = time.Now()
	return nil
}

func TestGatewayEnabled(t *testing.T) {
	g := &Gateway{Slug: "x", APIKeyEnv: "CATALOG_TEST_KEY", RequiresKey: true}
	assert.False(t, g.Enabled())

	t.Setenv("CATALOG_TEST_KEY", "sk-test")
	assert.True(t, g.Enabled())

	public := &Gateway{Slug: "y"}
	assert.True(t, public.Enabled())
}

func TestGatewayFetchModels(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
			{"id":"acme/model-a","context_length":32768,"pricing":{"prompt":"1.5","completion":"6"}},
			{"id":"","pricing":{"prompt":"1","completion":"1"}},
			{"id":"acme/dynamic","pricing":{"prompt":"-1","completion":"-1"}}
		]}`))
	}))
	defer srv.Close()

	t.Setenv("ACME_API_KEY", "sk-acme")
	g := &Gateway{
		Slug:           "acme",
		ListURL:        srv.URL,
		APIKeyEnv:      "ACME_API_KEY",
		RequiresKey:    true,
		Unit:           UnitPerMillionTokens,
		ContextDefault: 8192,
	}

	snaps := newMemorySnapshots()
	records, err := g.FetchModels(context.Background(), srv.Client(), nil, snaps)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-acme", gotAuth)

	// Empty-id and dynamic-priced entries are dropped.
	require.Len(t, records, 1)
	assert.Equal(t, "acme/model-a", records[0].ID)
	assert.InDelta(t, 1.5e-6, *records[0].Pricing.Prompt, 1e-15)

	// Successful fetches persist the raw payload.
	payload, _, err := snaps.LoadSnapshot("acme")
	require.NoError(t, err)
	assert.Contains(t, string(payload), "acme/model-a")
}

func TestGatewayCustomAuthHeader(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		_, _ = w.Write([]byte(`{"data":[{"id":"m","pricing":{"prompt":"1","completion":"1"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("CUSTOM_HEADER_KEY", "sk-h")
	g := &Gateway{
		Slug:       "custom",
		ListURL:    srv.URL,
		APIKeyEnv:  "CUSTOM_HEADER_KEY",
		AuthHeader: "x-api-key",
		Unit:       UnitPerMillionTokens,
	}

	_, err := g.FetchModels(context.Background(), srv.Client(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-h", gotKey)
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header http.Header
		body   string
		kind   FailureKind
		quota  bool
		retry  time.Duration
	}{
		{"rate limited with retry-after", 429, http.Header{"Retry-After": []string{"30"}}, "slow down", FailureRateLimited, false, 30 * time.Second},
		{"quota exhausted", 429, http.Header{}, `{"message":"Free allocated quota exceeded"}`, FailureRateLimited, true, 0},
		{"unauthorized", 401, http.Header{}, "", FailureAuth, false, 0},
		{"forbidden", 403, http.Header{}, "", FailureAuth, false, 0},
		{"server error", 502, http.Header{}, "bad gateway", FailureServer, false, 0},
		{"unexpected", 418, http.Header{}, "", FailureUnknown, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := classifyStatus(tt.status, tt.header, []byte(tt.body))
			assert.Equal(t, tt.kind, fe.Kind)
			assert.Equal(t, tt.quota, fe.QuotaExceeded)
			assert.Equal(t, tt.retry, fe.RetryAfter)
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))

	fe := &FetchError{Kind: FailureAuth}
	assert.Same(t, fe, ClassifyError(errors.Wrap(fe, "wrapped")))

	assert.Equal(t, FailureTimeout, ClassifyError(context.DeadlineExceeded).Kind)
	assert.Equal(t, FailureConnection, ClassifyError(errors.New("dial tcp: connection refused")).Kind)
	assert.Equal(t, FailureUnknown, ClassifyError(errors.New("weird")).Kind)
}

func TestFetchWithFallbackSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := &Gateway{Slug: "down", ListURL: srv.URL, Unit: UnitPerMillionTokens}
	snaps := newMemorySnapshots()
	require.NoError(t, snaps.SaveSnapshot("down", []byte(`{"data":[{"id":"m","pricing":{"prompt":"1","completion":"2"}}]}`)))

	records, fromFallback, err := g.FetchWithFallback(context.Background(), srv.Client(), nil, snaps)
	require.Error(t, err, "live failure is still reported for the breaker")
	assert.True(t, fromFallback)
	require.Len(t, records, 1)
	assert.Equal(t, "m", records[0].ID)
}

func TestFetchWithFallbackStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := &Gateway{
		Slug:    "pinned",
		ListURL: srv.URL,
		Unit:    UnitPerMillionTokens,
		Static: []RawModel{
			{ID: "pinned-model", ContextLength: 200000, Pricing: RawPricing{Prompt: fp(3), Completion: fp(15)}},
		},
	}

	records, fromFallback, err := g.FetchWithFallback(context.Background(), srv.Client(), nil, nil)
	require.Error(t, err)
	assert.True(t, fromFallback)
	require.Len(t, records, 1)
	assert.Equal(t, "pinned-model", records[0].ID)
}

func TestFetchWithFallbackNothingLeft(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := &Gateway{Slug: "bare", ListURL: srv.URL}
	records, fromFallback, err := g.FetchWithFallback(context.Background(), srv.Client(), nil, nil)
	require.Error(t, err)
	assert.False(t, fromFallback)
	assert.Nil(t, records)
}
