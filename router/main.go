package router

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/helper"
	"github.com/gatewayz/gatewayz/controller"
	"github.com/gatewayz/gatewayz/middleware"
	"github.com/gatewayz/gatewayz/relay/breaker"
	"github.com/gatewayz/gatewayz/relay/catalog"
	relaycontroller "github.com/gatewayz/gatewayz/relay/controller"
	relaymodel "github.com/gatewayz/gatewayz/relay/model"
	relayrouter "github.com/gatewayz/gatewayz/relay/router"
)

// Dependencies carries the wired components the HTTP surface is built from.
// main constructs them once and hands them here; handlers never reach for
// globals beyond config and the metrics recorder.
type Dependencies struct {
	Handler       *relaycontroller.Handler
	Aggregator    *catalog.Aggregator
	Breakers      *breaker.Registry
	Gate          *middleware.Gate
	RateLimiter   *middleware.RateLimiter
	CodeRouter    *relayrouter.CodeRouter
	GeneralRouter *relayrouter.GeneralRouter
}

// SetRouter attaches every route to the engine. Health, readiness, metrics
// and diagnostics stay outside the admission gate so operators can observe
// an overloaded instance; everything under /v1 pays the full middleware
// chain.
func SetRouter(engine *gin.Engine, deps *Dependencies) {
	engine.Use(middleware.RequestId())
	engine.Use(middleware.Metrics())
	engine.Use(cors.New(corsConfig()))
	// SSE responses must flush per event; keep the stream path uncompressed.
	engine.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/v1/chat/completions"})))

	engine.GET("/health", controller.Health())
	engine.GET("/ready", controller.Ready())
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	setDiagnosticsRouter(engine, deps)
	setRelayRouter(engine, deps)

	engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound,
			relaymodel.NewError(http.StatusNotFound, relaymodel.CodeValidationError,
				fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path)))
	})
}

func setDiagnosticsRouter(engine *gin.Engine, deps *Dependencies) {
	diag := engine.Group("/api/diagnostics")
	diag.GET("/health", controller.Health())
	diag.GET("/concurrency", controller.Concurrency(deps.Gate))
	diag.GET("/provider-timing", controller.ProviderTiming(deps.Breakers))

	rt := engine.Group("/api/router")
	rt.Use(deps.RateLimiter.Middleware())
	rt.GET("/code", controller.CodeRouterInfo(deps.CodeRouter))
	rt.GET("/general", controller.GeneralRouterInfo(deps.GeneralRouter))
	rt.POST("/test", controller.RouterTest(deps.CodeRouter, deps.GeneralRouter))
}

func setRelayRouter(engine *gin.Engine, deps *Dependencies) {
	v1 := engine.Group("/v1")
	v1.Use(deps.RateLimiter.Middleware())
	v1.Use(deps.Gate.Middleware())
	v1.Use(middleware.Auth())
	v1.POST("/chat/completions", controller.ChatCompletions(deps.Handler))
	v1.GET("/models", controller.ListModels(deps.Aggregator))
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowAllOrigins = true
	cfg.AllowHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", helper.RequestIdKey,
	}
	cfg.ExposeHeaders = []string{
		helper.RequestIdKey,
		"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
	}
	return cfg
}
