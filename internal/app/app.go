// Package app builds the shared dependencies of the server and the admin CLI
// from a loaded configuration.
package app

import (
	"alumnet/backend/internal/config"
	"alumnet/backend/internal/pubsub"
	"alumnet/backend/internal/retry"
	"alumnet/backend/internal/storage"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewLogger returns a production logger, or a development one when
// log.development is set.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func RetryConfig(cfg *config.Config) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.Retry.MaxRetries
	if cfg.Retry.BaseDelay > 0 {
		rc.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		rc.MaxDelay = cfg.Retry.MaxDelay
	}
	return rc
}

// OpenStore connects to the database and runs migrations.
func OpenStore(cfg *config.Config, log *zap.Logger) (*storage.Service, error) {
	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))
	return storage.NewStorageService(db, log), nil
}

// NewBroker connects the configured relay backend.
func NewBroker(ctx context.Context, cfg *config.Config, log *zap.Logger) (pubsub.Broker, error) {
	switch cfg.Relay.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		log.Info("relay backend ready", zap.String("backend", "redis"), zap.String("addr", cfg.Redis.Addr))
		return pubsub.NewRedisBroker(rdb, log), nil

	case config.BackendPostgres:
		b, err := pubsub.NewPostgresBroker(cfg.Database.DSN, log)
		if err != nil {
			return nil, err
		}
		log.Info("relay backend ready", zap.String("backend", "postgres"))
		return b, nil

	case config.BackendMemory:
		log.Warn("in-process relay: realtime delivery does not cross instances")
		return pubsub.NewMemoryBroker(), nil
	}
	return nil, fmt.Errorf("unsupported relay backend %q", cfg.Relay.Backend)
}
