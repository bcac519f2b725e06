package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"lanlink/pkg/cache"
	"lanlink/pkg/config"
	apperrors "lanlink/pkg/errors"
)

// limiterIdleTTL is how long a client's limiter survives without requests.
const limiterIdleTTL = 10 * time.Minute

// rateLimiterStore keeps one limiter per client IP.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters *cache.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
	sets     int
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters: cache.New[string, *rate.Limiter](limiterIdleTTL),
		rate:     r,
		burst:    burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(s.rate, s.burst)
	}
	// Re-set to push the idle deadline forward.
	s.limiters.Set(key, limiter)

	s.sets++
	if s.sets%1024 == 0 {
		s.limiters.Prune()
	}
	return limiter
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting and an optional
// global cap on concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var inflight *semaphore.Weighted
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		inflight = semaphore.NewWeighted(int64(cfg.RateLimiting.HTTP.MaxConcurrent))
	}

	return func(c *gin.Context) {
		if inflight != nil {
			if !inflight.TryAcquire(1) {
				abortWithError(c, apperrors.NewServiceUnavailableError("too many concurrent requests"))
				return
			}
			defer inflight.Release(1)
		}

		limiter := store.getLimiter(c.ClientIP())
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			abortWithError(c, apperrors.NewRateLimitError())
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"success": false,
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
