package model

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// authCache holds short-lived authorization lookups (API keys, plans,
// trials). Entries carry their own TTLs; the janitor sweep runs every
// minute.
var authCache = gocache.New(5*time.Minute, time.Minute)

func apiKeyCacheKey(key string) string   { return "apikey:" + key }
func planCacheKey(userID int64) string   { return fmt.Sprintf("plan:%d", userID) }
func trialCacheKey(userID int64) string  { return fmt.Sprintf("trial:%d", userID) }
func pricingCacheKey(model string) string { return "pricing:" + model }

// InvalidateUserCaches drops the cached plan and trial state for a user,
// e.g. after a subscription change.
func InvalidateUserCaches(userID int64) {
	authCache.Delete(planCacheKey(userID))
	authCache.Delete(trialCacheKey(userID))
}
