package model

import (
	"time"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/metrics"
)

// Trial validation failures. These are stable sentinels the handler maps to
// response codes.
var (
	ErrTrialNotFound          = errors.New("no trial for user")
	ErrTrialExpired           = errors.New("trial expired")
	ErrTrialTokensExhausted   = errors.New("trial token allowance exhausted")
	ErrTrialRequestsExhausted = errors.New("trial request allowance exhausted")
	ErrTrialCreditsExhausted  = errors.New("trial credit allowance exhausted")
)

// Trial is a time- and volume-boxed free allowance. Besides the token and
// request counters, the dollar value of consumed usage accumulates against a
// credit cap so expensive models cannot drain more than the trial is worth.
type Trial struct {
	Id             int64   `json:"id" gorm:"primaryKey"`
	UserId         int64   `json:"user_id" gorm:"uniqueIndex"`
	ExpiresAt      int64   `json:"expires_at" gorm:"bigint"`
	TokenLimit     int64   `json:"token_limit"`
	RequestLimit   int64   `json:"request_limit"`
	CreditCapUSD   float64 `json:"credit_cap_usd"`
	TokensUsed     int64   `json:"tokens_used"`
	RequestsUsed   int64   `json:"requests_used"`
	CreditsUsedUSD float64 `json:"credits_used_usd"`
	CreatedAt      int64   `json:"created_at" gorm:"bigint;autoCreateTime:milli"`
	UpdatedAt      int64   `json:"updated_at" gorm:"bigint;autoUpdateTime:milli"`
}

// Remaining reports the unused allowances.
func (t *Trial) Remaining() (tokens, requests int64) {
	tokens = t.TokenLimit - t.TokensUsed
	if tokens < 0 {
		tokens = 0
	}
	requests = t.RequestLimit - t.RequestsUsed
	if requests < 0 {
		requests = 0
	}
	return tokens, requests
}

func (t *Trial) validate(now int64) error {
	switch {
	case t.ExpiresAt > 0 && now >= t.ExpiresAt:
		return ErrTrialExpired
	case t.TokenLimit > 0 && t.TokensUsed >= t.TokenLimit:
		return ErrTrialTokensExhausted
	case t.RequestLimit > 0 && t.RequestsUsed >= t.RequestLimit:
		return ErrTrialRequestsExhausted
	case t.CreditCapUSD > 0 && t.CreditsUsedUSD >= t.CreditCapUSD:
		return ErrTrialCreditsExhausted
	default:
		return nil
	}
}

type trialCacheEntry struct {
	trial *Trial
	err   error
}

// ValidateTrialAccess checks whether the user's trial can serve another
// request. Valid results are cached briefly; definitively-invalid results
// (expired, exhausted) cache much longer since they only flip through an
// explicit upgrade, which invalidates the entry.
func ValidateTrialAccess(userID int64) (*Trial, error) {
	if cached, ok := authCache.Get(trialCacheKey(userID)); ok {
		entry := cached.(trialCacheEntry)
		return entry.trial, entry.err
	}

	start := time.Now()
	var trial Trial
	err := DB.First(&trial, "user_id = ?", userID).Error
	metrics.GlobalRecorder.RecordDBQuery(start, "select", "trials", err == nil)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			authCache.Set(trialCacheKey(userID), trialCacheEntry{err: ErrTrialNotFound}, config.TrialInvalidCacheTTL)
			return nil, ErrTrialNotFound
		}
		return nil, errors.Wrapf(err, "load trial for user %d", userID)
	}

	if verr := trial.validate(time.Now().UnixMilli()); verr != nil {
		authCache.Set(trialCacheKey(userID), trialCacheEntry{err: verr}, config.TrialInvalidCacheTTL)
		return nil, verr
	}

	authCache.Set(trialCacheKey(userID), trialCacheEntry{trial: &trial}, config.TrialCacheTTL)
	return &trial, nil
}

// TrackTrialUsage atomically adds one request, the consumed tokens, and the
// dollar cost to the trial counters. The cached validation entry is dropped so
// the next check sees fresh numbers; slight overshoot inside the cache window
// is accepted.
func TrackTrialUsage(userID int64, tokens int64, costUSD float64) error {
	start := time.Now()
	tx := DB.Model(&Trial{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"tokens_used":      gorm.Expr("tokens_used + ?", tokens),
			"requests_used":    gorm.Expr("requests_used + ?", 1),
			"credits_used_usd": gorm.Expr("credits_used_usd + ?", costUSD),
		})
	metrics.GlobalRecorder.RecordDBQuery(start, "update", "trials", tx.Error == nil)
	if tx.Error != nil {
		return errors.Wrapf(tx.Error, "track trial usage for user %d", userID)
	}
	if tx.RowsAffected == 0 {
		return ErrTrialNotFound
	}
	authCache.Delete(trialCacheKey(userID))
	return nil
}
