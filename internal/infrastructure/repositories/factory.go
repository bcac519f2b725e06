package repositories

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lanlink/internal/core/ports"
	"lanlink/internal/infrastructure/repositories/memory"
	redisrepo "lanlink/internal/infrastructure/repositories/redis"
	"lanlink/pkg/config"
	"lanlink/pkg/retry"
)

// RepositoryFactory builds the state tables. Live-connection state (peers,
// rooms, requests, calls) is always in memory because it dies with the
// process; upload sessions may live in Redis so they survive a restart.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	sessionTTL  time.Duration
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory if it is unreachable.
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis:   cfg.Redis.Enabled,
		sessionTTL: cfg.Uploads.SessionTTL,
		logger:     logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Retry:    retry.DefaultConfig(),
		}, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis for upload sessions")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}
	return factory
}

func (f *RepositoryFactory) CreatePeerRepository() ports.PeerRepository {
	return memory.NewMemoryPeerRepository()
}

func (f *RepositoryFactory) CreateRoomRepository() ports.RoomRepository {
	return memory.NewMemoryRoomRepository()
}

func (f *RepositoryFactory) CreateRequestRepository() ports.RequestRepository {
	return memory.NewMemoryRequestRepository()
}

func (f *RepositoryFactory) CreateCallRepository() ports.CallRepository {
	return memory.NewMemoryCallRepository()
}

// CreateUploadRepository returns the Redis table when connected.
func (f *RepositoryFactory) CreateUploadRepository() ports.UploadSessionRepository {
	if f.useRedis && f.redisClient != nil {
		// Keep records a little past the sweep horizon so the sweeper
		// still sees them and removes their chunks.
		return redisrepo.NewRedisUploadRepository(f.redisClient, 2*f.sessionTTL)
	}
	return memory.NewMemoryUploadRepository()
}

// RedisClient is nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
