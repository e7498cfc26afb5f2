package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/gatewayz/gatewayz/common"
	"github.com/gatewayz/gatewayz/common/client"
	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
	"github.com/gatewayz/gatewayz/common/telemetry"
	"github.com/gatewayz/gatewayz/middleware"
	"github.com/gatewayz/gatewayz/model"
	"github.com/gatewayz/gatewayz/monitor"
	"github.com/gatewayz/gatewayz/relay/adaptor"
	"github.com/gatewayz/gatewayz/relay/breaker"
	"github.com/gatewayz/gatewayz/relay/catalog"
	relaycontroller "github.com/gatewayz/gatewayz/relay/controller"
	"github.com/gatewayz/gatewayz/relay/pricing"
	relayrouter "github.com/gatewayz/gatewayz/relay/router"
	"github.com/gatewayz/gatewayz/router"
)

// Overridden at build time via -ldflags "-X main.buildTime=..."; the version
// itself lives in common.Version so telemetry sees the same value.
var buildTime = "unknown"

func main() {
	startTime := time.Now()

	client.Init()

	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Fatal("initialize redis", zap.Error(err))
	}
	if err := model.InitDB(); err != nil {
		logger.Logger.Fatal("initialize database", zap.Error(err))
	}

	ctx := context.Background()
	bundle, err := telemetry.InitOpenTelemetry(ctx)
	if err != nil {
		logger.Logger.Fatal("initialize opentelemetry", zap.Error(err))
	}
	if err := monitor.InitMonitoring(common.Version, buildTime, runtime.Version(), startTime); err != nil {
		logger.Logger.Fatal("initialize monitoring", zap.Error(err))
	}

	breakers := breaker.NewRegistry(config.BreakerFailureThreshold, config.BreakerRecoveryTimeout)
	agg := catalog.New(catalog.Options{
		Gateways:       catalog.Gateways(),
		Breakers:       breakers,
		Overlay:        model.PricingOverlay{},
		Snapshots:      model.SnapshotStore{},
		Client:         client.HTTPClient,
		Workers:        config.CatalogWorkers,
		PerTimeout:     config.CatalogFetchTimeout,
		OverallTimeout: config.CatalogOverallTimeout,
		TTL:            config.CatalogTTL,
		StaleTTL:       config.CatalogStaleTTL,
		RefreshWorkers: config.CatalogRefreshWorkers,
		SyncLog: func(gateway string, models int, succeeded bool, message string) {
			if err := model.LogPricingSync(gateway, models, succeeded, message); err != nil {
				logger.Logger.Warn("pricing sync log write failed",
					zap.String("gateway", gateway), zap.Error(err))
			}
		},
	})

	adaptors := relayrouter.BuildAdaptors(catalog.Gateways())
	multi := relayrouter.NewMultiProvider(agg.Registry(), adaptors, breakers, fallbackAdaptor(adaptors))

	resolver := pricing.NewResolver(agg.Lookup, model.PricingOverlay{})
	codeRouter := relayrouter.NewCodeRouter()
	generalRouter := relayrouter.NewGeneralRouter(func(ctx context.Context, modelID string) bool {
		return agg.Lookup(ctx, modelID) != nil
	})
	handler := relaycontroller.NewHandler(resolver, multi, codeRouter, generalRouter)

	if !config.DebugEnabled {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	router.SetRouter(engine, &router.Dependencies{
		Handler:       handler,
		Aggregator:    agg,
		Breakers:      breakers,
		Gate:          middleware.NewGateFromConfig(),
		RateLimiter:   middleware.NewRateLimiter(common.RDB),
		CodeRouter:    codeRouter,
		GeneralRouter: generalRouter,
	})

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Logger.Info("gatewayz listening",
			zap.String("addr", srv.Addr),
			zap.String("version", common.Version),
			zap.String("env", config.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("http server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warn("http server shutdown", zap.Error(err))
	}
	if err := handler.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Warn("persistence drain", zap.Error(err))
	}
	if bundle != nil {
		if err := bundle.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	if err := model.CloseDB(); err != nil {
		logger.Logger.Warn("close database", zap.Error(err))
	}
	logger.Logger.Info("shutdown complete")
}

// fallbackAdaptor resolves the default aggregator used when no direct
// provider can serve a model.
func fallbackAdaptor(adaptors map[string]adaptor.Adaptor) adaptor.Adaptor {
	if a, ok := adaptors[config.DefaultAggregator]; ok {
		return a
	}
	logger.Logger.Warn("default aggregator has no adaptor, falling back to openrouter",
		zap.String("configured", config.DefaultAggregator))
	return adaptors["openrouter"]
}
