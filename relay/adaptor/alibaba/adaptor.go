package alibaba

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/relay/adaptor"
	"github.com/gatewayz/gatewayz/relay/adaptor/openai_compatible"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// region is one DashScope deployment (international or China).
type region struct {
	Name    string
	ChatURL string
	KeyEnv  string
}

var regions = []region{
	{
		Name:    "intl",
		ChatURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1/chat/completions",
		KeyEnv:  "ALIBABA_INTL_API_KEY",
	},
	{
		Name:    "cn",
		ChatURL: "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions",
		KeyEnv:  "ALIBABA_CN_API_KEY",
	},
}

// Adaptor fronts DashScope with region failover: configured region first,
// then the last region that worked, then the default order over regions
// that have keys. Auth errors fail over; quota errors park the region for
// the configured backoff and are returned as-is, since quota is
// account-wide.
type Adaptor struct {
	mu          sync.Mutex
	lastWorking string
	quotaUntil  map[string]time.Time

	now func() time.Time
}

var _ adaptor.Adaptor = (*Adaptor)(nil)

// New builds the region-aware DashScope adaptor.
func New() *Adaptor {
	return &Adaptor{
		quotaUntil: map[string]time.Time{},
		now:        time.Now,
	}
}

// Name implements adaptor.Adaptor.Name.
func (a *Adaptor) Name() string { return "alibaba" }

func (a *Adaptor) regionOrder() []region {
	if explicit := strings.TrimSpace(os.Getenv("ALIBABA_REGION")); explicit != "" {
		for _, r := range regions {
			if r.Name == explicit {
				return []region{r}
			}
		}
	}

	a.mu.Lock()
	last := a.lastWorking
	a.mu.Unlock()

	order := make([]region, 0, len(regions))
	if last != "" {
		for _, r := range regions {
			if r.Name == last {
				order = append(order, r)
			}
		}
	}
	for _, r := range regions {
		if last == "" || r.Name != last {
			order = append(order, r)
		}
	}
	return order
}

func (a *Adaptor) markWorking(name string) {
	a.mu.Lock()
	a.lastWorking = name
	a.mu.Unlock()
}

func (a *Adaptor) quotaParked(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now().Before(a.quotaUntil[name])
}

func (a *Adaptor) parkQuota(name string) {
	a.mu.Lock()
	a.quotaUntil[name] = a.now().Add(config.AlibabaQuotaBackoff)
	a.mu.Unlock()
}

func regionAdaptor(r region) *openai_compatible.Adaptor {
	return openai_compatible.New(openai_compatible.Config{
		Slug:      "alibaba",
		ChatURL:   r.ChatURL,
		APIKeyEnv: r.KeyEnv,
	})
}

// forEachRegion runs fn against candidate regions until one succeeds or the
// failure is not auth-shaped.
func (a *Adaptor) forEachRegion(fn func(r region) error) error {
	var lastErr error
	attempted := false

	for _, r := range a.regionOrder() {
		if strings.TrimSpace(os.Getenv(r.KeyEnv)) == "" {
			continue
		}
		if a.quotaParked(r.Name) {
			logger.Logger.Debug("alibaba region parked for quota backoff",
				zap.String("region", r.Name))
			continue
		}
		attempted = true

		err := fn(r)
		if err == nil {
			a.markWorking(r.Name)
			return nil
		}
		lastErr = err

		if isQuotaError(err) {
			a.parkQuota(r.Name)
			return err
		}
		if !isAuthError(err) {
			return err
		}
		logger.Logger.Warn("alibaba region auth failure, trying next region",
			zap.String("region", r.Name), zap.Error(err))
	}

	if !attempted {
		return relaymodel.NewError(http.StatusServiceUnavailable,
			relaymodel.CodeProviderUnavailable, "no alibaba region available")
	}
	return errors.Wrap(lastErr, "all alibaba regions failed")
}

// ChatCompletion implements adaptor.Adaptor.ChatCompletion.
func (a *Adaptor) ChatCompletion(ctx context.Context, req *relaymodel.ChatRequest) (*relaymodel.ChatResponse, error) {
	var out *relaymodel.ChatResponse
	err := a.forEachRegion(func(r region) error {
		resp, err := regionAdaptor(r).ChatCompletion(ctx, req)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

// ChatCompletionStream implements adaptor.Adaptor.ChatCompletionStream.
func (a *Adaptor) ChatCompletionStream(ctx context.Context, req *relaymodel.ChatRequest) (<-chan adaptor.StreamEvent, error) {
	var out <-chan adaptor.StreamEvent
	err := a.forEachRegion(func(r region) error {
		events, err := regionAdaptor(r).ChatCompletionStream(ctx, req)
		if err != nil {
			return err
		}
		out = events
		return nil
	})
	return out, err
}

func isAuthError(err error) bool {
	var apiErr *relaymodel.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return false
}

// Quota exhaustion surfaces as 429 with quota wording; plain rate limiting
// does not park the region.
func isQuotaError(err error) bool {
	var apiErr *relaymodel.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "quota") || strings.Contains(msg, "allocated")
}
