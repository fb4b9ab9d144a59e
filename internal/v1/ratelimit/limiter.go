// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/meshplay/signalserver/internal/v1/config"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"github.com/meshplay/signalserver/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// appIDContextKey names a gin context key for a validated app id. No code in
// this module sets or reads it; the app id reaches the rate limiter through
// CheckWebSocketApp instead. Kept as a bare string rather than importing
// appregistry, so the two packages stay independent of each other.
const appIDContextKey = "app_id"

// RateLimiter holds the rate limiter instances used at the WebSocket ingress
// and on the small public HTTP surface (health, metrics).
type RateLimiter struct {
	wsIP      *limiter.Limiter
	wsApp     *limiter.Limiter
	apiPublic *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsAppRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsApp)
	if err != nil {
		return nil, fmt.Errorf("invalid WS app rate: %w", err)
	}

	apiPublicRate, err := limiter.NewRateFromFormatted(cfg.RateLimitAPIPublic)
	if err != nil {
		return nil, fmt.Errorf("invalid API public rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		wsIP:      limiter.New(store, wsIPRate),
		wsApp:     limiter.New(store, wsAppRate),
		apiPublic: limiter.New(store, apiPublicRate),
		store:     store,
	}, nil
}

// GlobalMiddleware enforces the public per-IP rate limit on every route of
// the router it is mounted on; cmd/server mounts it router-wide, so the WS
// upgrade route is counted here too. The WS endpoint additionally has its
// own per-IP check (CheckWebSocket) and per-app check (CheckWebSocketApp),
// since the app id is only known once the client's Authenticate message
// arrives after the upgrade.
func (rl *RateLimiter) GlobalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		ctx := c.Request.Context()
		lctx, err := rl.apiPublic.Get(ctx, key)
		if err != nil {
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(c.FullPath(), "ip").Inc()
			c.Header("Retry-After", strconv.FormatInt(lctx.Reset-time.Now().Unix(), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		metrics.RateLimitRequests.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}

// CheckWebSocket checks the per-IP limit before the upgrade handshake starts.
// Returns true if the connection should proceed.
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipCtx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (ip)", zap.Error(err))
		return true // fail open
	}

	if ipCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketApp checks the per-app limit. The Authenticate handler calls
// it after the app credential in that message has been checked against the
// Application Registry (when one is configured).
func (rl *RateLimiter) CheckWebSocketApp(ctx context.Context, appID string) error {
	appCtx, err := rl.wsApp.Get(ctx, appID)
	if err != nil {
		logging.Error(ctx, "ws rate limiter store failed (app)", zap.Error(err))
		return nil // fail open
	}

	if appCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "app").Inc()
		return fmt.Errorf("rate limit exceeded for app %s", appID)
	}

	return nil
}

// StandardMiddleware exposes the raw ulule/limiter gin middleware for routes
// that don't need the app-vs-IP distinction above.
func (rl *RateLimiter) StandardMiddleware() gin.HandlerFunc {
	return mgin.NewMiddleware(rl.apiPublic)
}
