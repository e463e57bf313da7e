// Package ratelimit implements WebSocket connect rate limiting using Redis
// (shared across instances) or an in-memory fallback for single-instance
// development.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/teeban10/kasagi-main/internal/v1/config"
	"github.com/teeban10/kasagi-main/internal/v1/logging"
	"github.com/teeban10/kasagi-main/internal/v1/metrics"
	"go.uber.org/zap"
)

// RateLimiter enforces a per-IP limit on new WebSocket connect attempts.
// There is no authenticated-user tier: KasagiEngine's Non-goals exclude
// authentication entirely, so every connection is limited by source IP.
type RateLimiter struct {
	wsConnect   *limiter.Limiter
	store       limiter.Store
	redisClient *redis.Client
}

// NewRateLimiter creates a RateLimiter backed by Redis when redisClient is
// non-nil, or an in-memory store otherwise (dev mode / tests).
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSConnect)
	if err != nil {
		return nil, fmt.Errorf("invalid WS connect rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "kasagi:limiter:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (no Redis client)")
	}

	return &RateLimiter{
		wsConnect:   limiter.New(store, rate),
		store:       store,
		redisClient: redisClient,
	}, nil
}

// CheckWebSocketConnect enforces the per-IP connect limit. Returns true if
// the connection should proceed; on false it has already written the 429
// response to c. Redis failures fail open so a coordinator outage never
// blocks new connections outright.
func (rl *RateLimiter) CheckWebSocketConnect(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	result, err := rl.wsConnect.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	if result.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ws_connect").Inc()
		c.Header("Retry-After", strconv.FormatInt(result.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connection attempts from this IP"})
		return false
	}

	return true
}
