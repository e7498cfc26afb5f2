package common

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/gatewayz/gatewayz/common/config"
	"github.com/gatewayz/gatewayz/common/logger"
)

// RDB is the shared redis client, nil when redis is not configured.
// Rate-limit buckets fall back to an in-process store when nil.
var RDB *redis.Client

// InitRedisClient connects to redis when REDIS_CONN_STRING is set.
func InitRedisClient() error {
	if config.RedisConnString == "" {
		logger.Logger.Info("redis not configured, using in-process stores")
		return nil
	}

	opt, err := redis.ParseURL(config.RedisConnString)
	if err != nil {
		return errors.Wrap(err, "parse redis connection string")
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}

	RDB = client
	logger.Logger.Info("redis connected", zap.String("addr", opt.Addr))
	return nil
}

// RedisEnabled reports whether the shared redis client is available.
func RedisEnabled() bool {
	return RDB != nil
}
