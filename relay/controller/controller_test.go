package controller

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatewayz/gatewayz/common/ctxkey"
	"github.com/gatewayz/gatewayz/common/helper"
	"github.com/gatewayz/gatewayz/model"
	"github.com/gatewayz/gatewayz/relay/adaptor"
	"github.com/gatewayz/gatewayz/relay/breaker"
	"github.com/gatewayz/gatewayz/relay/catalog"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
	"github.com/gatewayz/gatewayz/relay/pricing"
	"github.com/gatewayz/gatewayz/relay/router"
)

// Test prices: $10 per million prompt tokens, $20 per million completion
// tokens, expressed per single token as the resolver expects.
const (
	testPromptRate     = 0.00001
	testCompletionRate = 0.00002
)

func setupBillingDB(t *testing.T) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "controller_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Trial{}, &model.UsageRecord{},
		&model.ChatCompletionRequest{}, &model.Plan{}, &model.UserPlan{},
	))

	old := model.DB
	model.DB = db
	t.Cleanup(func() { model.DB = old })
}

func seedPaidUser(t *testing.T, userID int64, credits float64) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.User{
		Id:      userID,
		Email:   "paid@example.com",
		Credits: credits,
		Tier:    "pro",
	}).Error)
	t.Cleanup(func() { model.InvalidateUserCaches(userID) })
}

func seedTrialUser(t *testing.T, userID int64, tokenLimit int64) {
	t.Helper()
	require.NoError(t, model.DB.Create(&model.User{
		Id:    userID,
		Email: "trial@example.com",
		Tier:  "free",
	}).Error)
	require.NoError(t, model.DB.Create(&model.Trial{
		UserId:       userID,
		TokenLimit:   tokenLimit,
		RequestLimit: 100,
	}).Error)
	t.Cleanup(func() { model.InvalidateUserCaches(userID) })
}

func testResolver() *pricing.Resolver {
	prompt, completion := testPromptRate, testCompletionRate
	lookup := func(_ context.Context, modelID string) *catalog.ModelRecord {
		return &catalog.ModelRecord{
			ID:      modelID,
			Pricing: catalog.Pricing{Prompt: &prompt, Completion: &completion},
		}
	}
	return pricing.NewResolver(lookup, nil)
}

// scriptedAdaptor replays canned responses or stream chunks.
type scriptedAdaptor struct {
	mu        sync.Mutex
	name      string
	calls     []string
	response  *relaymodel.ChatResponse
	err       error
	chunks    []relaymodel.StreamChunk
	streamErr error
}

func (s *scriptedAdaptor) Name() string { return s.name }

func (s *scriptedAdaptor) ChatCompletion(_ context.Context, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Model)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	resp := *s.response
	return &resp, nil
}

func (s *scriptedAdaptor) ChatCompletionStream(ctx context.Context, req *relaymodel.ChatRequest) (<-chan adaptor.StreamEvent, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Model)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}

	ch := make(chan adaptor.StreamEvent)
	go func() {
		defer close(ch)
		for i := range s.chunks {
			select {
			case ch <- adaptor.StreamEvent{Chunk: &s.chunks[i]}:
			case <-ctx.Done():
				return
			}
		}
		if s.streamErr != nil {
			select {
			case ch <- adaptor.StreamEvent{Err: s.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (s *scriptedAdaptor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// mapResolver maps one canonical id to one provider.
type mapResolver struct {
	modelID string
	slug    string
}

func (m *mapResolver) ProvidersFor(canonicalID string) []catalog.CanonicalProvider {
	if canonicalID != m.modelID {
		return nil
	}
	prompt, completion := testPromptRate, testCompletionRate
	return []catalog.CanonicalProvider{{
		ProviderSlug:  m.slug,
		NativeModelID: m.slug + "/" + canonicalID,
		Pricing:       catalog.Pricing{Prompt: &prompt, Completion: &completion},
	}}
}

// newTestHandler wires a handler over one registered provider and one
// fallback aggregator.
func newTestHandler(modelID string, primary, fallback *scriptedAdaptor) *Handler {
	multi := router.NewMultiProvider(
		&mapResolver{modelID: modelID, slug: primary.name},
		map[string]adaptor.Adaptor{primary.name: primary},
		breaker.NewRegistry(3, 300*time.Second),
		fallback,
	)
	general := router.NewGeneralRouter(nil)
	return NewHandler(testResolver(), multi, router.NewCodeRouter(), general)
}

// testGinContext builds a gin context carrying an authenticated caller.
func testGinContext(t *testing.T, userID int64, isTrial, bypass bool) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	c.Set(ctxkey.UserId, userID)
	c.Set(ctxkey.IsTrial, isTrial)
	c.Set(ctxkey.BypassAuth, bypass)
	c.Set(ctxkey.UserTier, "pro")
	c.Set(helper.RequestIdKey, "req-test-1")
	return c, w
}

func flushPersistence(t *testing.T, h *Handler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
}

func chatRequest(modelID, prompt string) *relaymodel.ChatRequest {
	return &relaymodel.ChatRequest{
		Model:    modelID,
		Messages: []relaymodel.Message{{Role: "user", Content: prompt}},
	}
}
