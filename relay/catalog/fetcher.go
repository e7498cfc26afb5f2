package catalog

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/gatewayz/gatewayz/common/logger"
)

// FailureKind classifies fetch failures for metrics and circuit breakers.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection_error"
	FailureRateLimited FailureKind = "rate_limited"
	FailureAuth        FailureKind = "auth_failure"
	FailureServer      FailureKind = "server_error"
	FailureUnknown     FailureKind = "unknown"
)

// FetchError is a classified gateway fetch failure.
type FetchError struct {
	Kind       FailureKind
	StatusCode int
	// RetryAfter is non-zero when the upstream sent a usable Retry-After.
	RetryAfter time.Duration
	// QuotaExceeded marks provider-level quota exhaustion (Alibaba style)
	// which gets its own long backoff instead of the stale window.
	QuotaExceeded bool
	Err           error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap exposes the cause.
func (e *FetchError) Unwrap() error { return e.Err }

// ClassifyError maps any error to a FetchError, passing through ones that
// are already classified.
func ClassifyError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FailureTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return &FetchError{Kind: FailureTimeout, Err: err}
		}
		return &FetchError{Kind: FailureConnection, Err: err}
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") {
		return &FetchError{Kind: FailureConnection, Err: err}
	}
	return &FetchError{Kind: FailureUnknown, Err: err}
}

func classifyStatus(status int, header http.Header, body []byte) *FetchError {
	fe := &FetchError{StatusCode: status, Err: errors.Errorf("unexpected status %d: %s", status, truncate(body, 200))}
	switch {
	case status == http.StatusTooManyRequests:
		fe.Kind = FailureRateLimited
		fe.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
		if strings.Contains(strings.ToLower(string(body)), "quota") {
			fe.QuotaExceeded = true
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		fe.Kind = FailureAuth
	case status >= 500:
		fe.Kind = FailureServer
	default:
		fe.Kind = FailureUnknown
	}
	return fe
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// SnapshotStore persists the last successful raw listing per gateway so a
// fetch failure can fall back to the most recent good snapshot.
type SnapshotStore interface {
	LoadSnapshot(gateway string) (payload []byte, fetchedAt time.Time, err error)
	SaveSnapshot(gateway string, payload []byte) error
}

// Gateway describes one upstream model catalog: where to list models and
// how to normalize the entries.
type Gateway struct {
	Slug    string
	ListURL string
	// APIKeyEnv names the env var holding the key; empty means the listing
	// endpoint is public.
	APIKeyEnv string
	// AuthHeader defaults to "Authorization: Bearer <key>"; some gateways
	// use a custom header instead.
	AuthHeader  string
	AuthPrefix  string
	RequiresKey bool

	Unit           PriceUnit
	ContextDefault int
	// FreeAllowlisted marks legitimately free models kept despite zero
	// pricing.
	FreeAllowlisted func(id string) bool
	// Parse overrides the default list / {data:[...]} envelope parsing.
	Parse func(body []byte) ([]RawModel, error)
	// FetchRaw overrides the whole HTTP fetch; used by region-aware
	// gateways.
	FetchRaw func(ctx context.Context, client *http.Client) ([]RawModel, error)
	// Static is the last-resort model list when both the live fetch and
	// the snapshot store fail.
	Static []RawModel
}

func (g *Gateway) apiKey() string {
	if g.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(g.APIKeyEnv))
}

// Enabled reports whether the gateway can be fetched at all.
func (g *Gateway) Enabled() bool {
	if g.RequiresKey && g.apiKey() == "" {
		return false
	}
	return true
}

// normalizeOptions builds the per-gateway normalization config.
func (g *Gateway) normalizeOptions(overlay PricingOverlay) NormalizeOptions {
	return NormalizeOptions{
		SourceGateway:   g.Slug,
		Unit:            g.Unit,
		ContextDefault:  g.ContextDefault,
		FreeAllowlisted: g.FreeAllowlisted,
		Overlay:         overlay,
	}
}

// FetchModels lists the gateway's models and normalizes them. On failure it
// returns a classified *FetchError wrapped in the chain.
func (g *Gateway) FetchModels(ctx context.Context, client *http.Client, overlay PricingOverlay, snapshots SnapshotStore) ([]*ModelRecord, error) {
	raws, body, err := g.fetchRaw(ctx, client)
	if err != nil {
		return nil, err
	}
	if snapshots != nil && len(body) > 0 {
		if serr := snapshots.SaveSnapshot(g.Slug, body); serr != nil {
			logger.Logger.Warn("save catalog snapshot failed",
				zap.String("gateway", g.Slug), zap.Error(serr))
		}
	}
	return g.normalizeAll(raws, overlay), nil
}

func (g *Gateway) fetchRaw(ctx context.Context, client *http.Client) ([]RawModel, []byte, error) {
	if g.FetchRaw != nil {
		raws, err := g.FetchRaw(ctx, client)
		return raws, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.ListURL, nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "build %s listing request", g.Slug)
	}
	req.Header.Set("Accept", "application/json")
	if key := g.apiKey(); key != "" {
		header := g.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		prefix := g.AuthPrefix
		if prefix == "" && header == "Authorization" {
			prefix = "Bearer "
		}
		req.Header.Set(header, prefix+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(ClassifyError(err), "fetch %s models", g.Slug)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, nil, errors.Wrapf(ClassifyError(err), "read %s listing", g.Slug)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, errors.Wrapf(classifyStatus(resp.StatusCode, resp.Header, body), "fetch %s models", g.Slug)
	}

	raws, err := g.parseListing(body)
	if err != nil {
		return nil, nil, err
	}
	return raws, body, nil
}

func (g *Gateway) parseListing(body []byte) ([]RawModel, error) {
	parse := g.Parse
	if parse == nil {
		parse = ParseListing
	}
	raws, err := parse(body)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s listing", g.Slug)
	}
	return raws, nil
}

func (g *Gateway) normalizeAll(raws []RawModel, overlay PricingOverlay) []*ModelRecord {
	opts := g.normalizeOptions(overlay)
	records := make([]*ModelRecord, 0, len(raws))
	for i := range raws {
		if strings.TrimSpace(raws[i].ID) == "" {
			logger.Logger.Warn("dropping malformed catalog entry without id",
				zap.String("gateway", g.Slug))
			continue
		}
		rec, ok := NormalizeRawModel(&raws[i], opts)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// FetchWithFallback tries the live listing, then the snapshot store, then
// the static list. Snapshot rows go through the same normalization as live
// responses. The returned error is the live-fetch failure even when a
// fallback succeeded, so callers can still feed breakers; the bool reports
// whether the records came from a fallback source.
func (g *Gateway) FetchWithFallback(ctx context.Context, client *http.Client, overlay PricingOverlay, snapshots SnapshotStore) ([]*ModelRecord, bool, error) {
	records, err := g.FetchModels(ctx, client, overlay, snapshots)
	if err == nil {
		return records, false, nil
	}

	if snapshots != nil {
		if payload, fetchedAt, serr := snapshots.LoadSnapshot(g.Slug); serr == nil && len(payload) > 0 {
			if raws, perr := g.parseListing(payload); perr == nil {
				logger.Logger.Warn("serving catalog snapshot fallback",
					zap.String("gateway", g.Slug),
					zap.Time("snapshot_at", fetchedAt),
					zap.Error(err))
				return g.normalizeAll(raws, overlay), true, err
			}
		}
	}

	if len(g.Static) > 0 {
		logger.Logger.Warn("serving static catalog fallback",
			zap.String("gateway", g.Slug), zap.Error(err))
		return g.normalizeAll(g.Static, overlay), true, err
	}

	return nil, false, err
}
