package logger

import (
	"github.com/Laisky/zap"
	"github.com/Laisky/zap/zapcore"

	"github.com/gatewayz/gatewayz/common/config"
)

// Logger is the process-wide structured logger. Request-scoped logging goes
// through gin-middlewares (gmw.GetLogger); this one is for package-level code
// without a request context.
var Logger *zap.Logger

func init() {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if config.DebugEnabled {
		level.SetLevel(zapcore.DebugLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var err error
	Logger, err = cfg.Build(zap.AddCaller())
	if err != nil {
		Logger = zap.NewNop()
	}
}
