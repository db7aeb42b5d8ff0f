package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stallmarket/backend/internal/domain/billing"
	"github.com/stallmarket/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ThrottleStoreFactory picks the bootstrap throttle backend from configuration
type ThrottleStoreFactory struct {
	billingConfig config.BillingConfig
	redisConfig   config.RedisConfig
	fallback      billing.ThrottleStore
	logger        *zap.Logger
}

// ThrottleStoreFactoryOption is a functional option for configuring the factory
type ThrottleStoreFactoryOption func(*ThrottleStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) ThrottleStoreFactoryOption {
	return func(f *ThrottleStoreFactory) {
		f.logger = logger
	}
}

// WithFallback sets the store used when Redis is configured but unreachable.
// Without a fallback an unreachable Redis is an error.
func WithFallback(store billing.ThrottleStore) ThrottleStoreFactoryOption {
	return func(f *ThrottleStoreFactory) {
		f.fallback = store
	}
}

// NewThrottleStoreFactory creates a new factory
func NewThrottleStoreFactory(billingCfg config.BillingConfig, redisCfg config.RedisConfig, opts ...ThrottleStoreFactoryOption) *ThrottleStoreFactory {
	f := &ThrottleStoreFactory{
		billingConfig: billingCfg,
		redisConfig:   redisCfg,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns the Redis store when the redis backend is selected,
// otherwise the fallback. The returned client is nil unless Redis is used;
// the caller closes it on shutdown.
func (f *ThrottleStoreFactory) CreateStore(ctx context.Context) (billing.ThrottleStore, *redis.Client, error) {
	if f.billingConfig.ThrottleBackend != "redis" {
		if f.fallback == nil {
			return nil, nil, fmt.Errorf("no throttle store for backend %q", f.billingConfig.ThrottleBackend)
		}
		return f.fallback, nil, nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig)
	if err == nil {
		f.logger.Info("using Redis bootstrap throttle", zap.String("addr", f.redisConfig.RedisAddr()))
		return NewRedisThrottleStore(client, ""), client, nil
	}

	if f.fallback == nil {
		return nil, nil, fmt.Errorf("redis required for bootstrap throttle but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to database bootstrap throttle", zap.Error(err))
	return f.fallback, nil, nil
}
