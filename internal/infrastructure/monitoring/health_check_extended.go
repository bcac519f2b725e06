package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"lanlink/internal/core/ports"
)

// AddRedisCheck pings the upload session store.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddStorageCheck verifies the chunk and completed-file directories are writable.
func (h *HealthChecker) AddStorageCheck(store ports.ChunkStore, timeout time.Duration) {
	h.AddCheck("storage", store.HealthCheck, timeout)
}

// AddConnectionCheck fails when the real-time server has stopped accepting.
func (h *HealthChecker) AddConnectionCheck(check func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("realtime", check, timeout)
}
