package catalog

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
)

// alibabaRegion is one DashScope deployment (international or China).
type alibabaRegion struct {
	Name    string
	ListURL string
	KeyEnv  string
}

var alibabaRegions = []alibabaRegion{
	{
		Name:    "intl",
		ListURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1/models",
		KeyEnv:  "ALIBABA_INTL_API_KEY",
	},
	{
		Name:    "cn",
		ListURL: "https://dashscope.aliyuncs.com/compatible-mode/v1/models",
		KeyEnv:  "ALIBABA_CN_API_KEY",
	},
}

// alibabaState remembers the last working region. Region failover is a
// separate small state machine from the general circuit breaker because its
// trigger is auth-shaped, not availability-shaped.
type alibabaState struct {
	mu          sync.Mutex
	lastWorking string
}

func (s *alibabaState) regionOrder() []alibabaRegion {
	if explicit := strings.TrimSpace(os.Getenv("ALIBABA_REGION")); explicit != "" {
		for _, r := range alibabaRegions {
			if r.Name == explicit {
				return []alibabaRegion{r}
			}
		}
	}

	s.mu.Lock()
	last := s.lastWorking
	s.mu.Unlock()

	order := make([]alibabaRegion, 0, len(alibabaRegions))
	if last != "" {
		for _, r := range alibabaRegions {
			if r.Name == last {
				order = append(order, r)
			}
		}
	}
	for _, r := range alibabaRegions {
		if last == "" || r.Name != last {
			order = append(order, r)
		}
	}
	return order
}

func (s *alibabaState) markWorking(region string) {
	s.mu.Lock()
	s.lastWorking = region
	s.mu.Unlock()
}

// NewAlibabaGateway builds the region-aware DashScope gateway. Auth errors
// trigger failover to the next region; quota errors do not retry and are
// cached for the configured backoff by the caller.
func NewAlibabaGateway() *Gateway {
	state := &alibabaState{}

	g := &Gateway{
		Slug:           "alibaba",
		Unit:           UnitPerMillionTokens,
		ContextDefault: 131072,
	}

	g.FetchRaw = func(ctx context.Context, client *http.Client) ([]RawModel, error) {
		var lastErr error
		attempted := false

		for _, region := range state.regionOrder() {
			key := strings.TrimSpace(os.Getenv(region.KeyEnv))
			if key == "" {
				continue
			}
			attempted = true

			raws, err := alibabaListRegion(ctx, client, region, key)
			if err == nil {
				state.markWorking(region.Name)
				return raws, nil
			}
			lastErr = err

			fe := ClassifyError(err)
			if fe.QuotaExceeded {
				// Quota exhaustion is account-wide; trying the other
				// region with the same account only burns quota.
				fe.RetryAfter = config.AlibabaQuotaBackoff
				return nil, errors.Wrap(fe, "alibaba quota exceeded")
			}
			if fe.Kind != FailureAuth {
				return nil, err
			}
			logger.Logger.Warn("alibaba region auth failure, trying next region",
				zap.String("region", region.Name), zap.Error(err))
		}

		if !attempted {
			return nil, errors.Wrap(
				&FetchError{Kind: FailureAuth, Err: errors.New("no alibaba API key configured for any region")},
				"alibaba listing")
		}
		return nil, errors.Wrap(lastErr, "all alibaba regions failed")
	}

	return g
}

func alibabaListRegion(ctx context.Context, client *http.Client, region alibabaRegion, key string) ([]RawModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, region.ListURL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "build alibaba %s request", region.Name)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ClassifyError(err), "alibaba %s listing", region.Name)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, errors.Wrapf(ClassifyError(err), "read alibaba %s listing", region.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(classifyStatus(resp.StatusCode, resp.Header, body), "alibaba %s listing", region.Name)
	}

	raws, err := ParseListing(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse alibaba %s listing", region.Name)
	}
	return raws, nil
}
