package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/gatewayz/gatewayz/middleware"
	"github.com/gatewayz/gatewayz/relay/catalog"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
)

// Aggregating thirty-odd gateways is expensive; identical listing queries
// within the window are served from this response cache.
var modelsCache = gocache.New(time.Minute, 5*time.Minute)

// openAIModel is the /v1/models list entry in the OpenAI envelope.
type openAIModel struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Created       int64  `json:"created"`
	OwnedBy       string `json:"owned_by"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ListModels serves GET /v1/models from the aggregated catalog.
func ListModels(agg *catalog.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := requestFingerprint(c)
		if cached, ok := modelsCache.Get(key); ok {
			c.Data(http.StatusOK, "application/json", cached.([]byte))
			return
		}

		records, err := agg.GetAllModels(c.Request.Context())
		if err != nil {
			middleware.AbortWithError(c, http.StatusServiceUnavailable,
				relaymodel.WrapError(err, http.StatusServiceUnavailable,
					relaymodel.CodeProviderUnavailable, "catalog unavailable"))
			return
		}

		gateway := c.Query("gateway")
		now := time.Now().Unix()
		data := make([]openAIModel, 0, len(records))
		for _, rec := range records {
			if gateway != "" && rec.SourceGateway != gateway {
				continue
			}
			data = append(data, openAIModel{
				ID:            rec.ID,
				Object:        "model",
				Created:       now,
				OwnedBy:       rec.SourceGateway,
				ContextLength: rec.ContextLength,
			})
		}

		body, err := json.Marshal(gin.H{"object": "list", "data": data})
		if err != nil {
			middleware.AbortWithError(c, http.StatusInternalServerError, err)
			return
		}
		modelsCache.Set(key, body, gocache.DefaultExpiration)
		c.Data(http.StatusOK, "application/json", body)
	}
}

// requestFingerprint keys the response cache on everything that changes the
// listing output.
func requestFingerprint(c *gin.Context) string {
	sum := sha256.Sum256([]byte(c.Request.URL.Path + "?" + c.Request.URL.RawQuery))
	return hex.EncodeToString(sum[:16])
}
