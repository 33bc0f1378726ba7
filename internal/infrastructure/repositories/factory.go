package repositories

import (
	"context"
	"fmt"

	"studyroom/internal/core/ports"
	"studyroom/internal/infrastructure/repositories/memory"
	redisrepo "studyroom/internal/infrastructure/repositories/redis"
	"studyroom/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory picks the membership authority and owns the Redis
// connection shared with the event bus.
type RepositoryFactory struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled. A Redis outage is
// fatal only when membership depends on it; otherwise the coordinator
// runs without the event bus.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		switch {
		case err != nil && cfg.Membership.Backend == "redis":
			return nil, fmt.Errorf("membership backend unavailable: %w", err)
		case err != nil:
			logger.Warnw("Failed to connect to Redis, running without event bus", "error", err)
		default:
			factory.redisClient = client
		}
	}
	return factory, nil
}

// CreateMembership returns the configured membership authority, before
// caching.
func (f *RepositoryFactory) CreateMembership() (ports.MembershipChecker, error) {
	switch f.cfg.Membership.Backend {
	case "open":
		f.logger.Warn("Membership checks disabled, every user may join every room")
		return memory.NewOpenMembership(), nil
	case "static":
		f.logger.Infow("Using static membership roster", "rooms", len(f.cfg.Membership.Static))
		return memory.NewStaticMembership(f.cfg.Membership.Static), nil
	case "redis":
		if f.redisClient == nil {
			return nil, fmt.Errorf("membership backend redis requires a Redis connection")
		}
		f.logger.Infow("Using Redis membership", "key_prefix", f.cfg.Membership.KeyPrefix)
		return redisrepo.NewMembership(f.redisClient, f.cfg.Membership.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown membership backend %q", f.cfg.Membership.Backend)
	}
}

// RedisClient is nil when Redis is disabled or unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.redisClient)
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
