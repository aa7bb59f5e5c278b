// Consumer service - reads dispatch events from NATS JetStream,
// batch-inserts into ClickHouse, and fans out to the Redis live channel.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hidflux/hidflux/internal/cache"
	"github.com/hidflux/hidflux/internal/consumer"
	"github.com/hidflux/hidflux/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("hidflux consumer starting")

	// ClickHouse
	chCfg := storage.DefaultClickHouseConfig()
	if dsn := os.Getenv("CLICKHOUSE_DSN"); dsn != "" {
		chCfg.DSN = dsn
	}
	ch, err := storage.NewClickHouse(chCfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
	}
	defer ch.Close()

	// Redis live fan-out (optional)
	rCfg := cache.DefaultRedisConfig()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rCfg.Addr = addr
	}
	redis, err := cache.NewRedis(rCfg, logger)
	if err != nil {
		logger.Warn("Redis unavailable, live fan-out disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	// Consumer
	cfg := consumer.DefaultConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATSURL = url
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := consumer.New(cfg, ch, redis, logger)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("Consumer error", zap.Error(err))
	}

	logger.Info("Consumer stopped")
}
