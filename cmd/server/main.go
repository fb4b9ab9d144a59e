package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshplay/signalserver/internal/v1/appregistry"
	"github.com/meshplay/signalserver/internal/v1/cache"
	"github.com/meshplay/signalserver/internal/v1/config"
	"github.com/meshplay/signalserver/internal/v1/health"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"github.com/meshplay/signalserver/internal/v1/middleware"
	"github.com/meshplay/signalserver/internal/v1/ratelimit"
	"github.com/meshplay/signalserver/internal/v1/signaling"
	"github.com/meshplay/signalserver/internal/v1/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting signal server", zap.String("go_env", cfg.GoEnv))

	tracingEnabled := false
	if addr := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); addr != "" {
		tp, err := tracing.InitTracer(ctx, "signalserver", addr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize tracer", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
			tracingEnabled = true
		}
	}

	var cacheService *cache.Service
	if cfg.RedisEnabled {
		cacheService, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		defer func() { _ = cacheService.Close() }()
	}

	registry := buildRegistry(ctx, cfg, cacheService)

	var redisClient *redis.Client
	if cacheService != nil {
		redisClient = cacheService.Client()
	}
	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	hub := signaling.NewHub(cfg, registry, rateLimiter)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())
	if tracingEnabled {
		router.Use(otelgin.Middleware("signalserver"))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = appregistry.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	router.Use(cors.New(corsConfig))

	if rateLimiter != nil {
		router.Use(rateLimiter.GlobalMiddleware())
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", hub.ServeWs)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(cacheService)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "signal server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down signal server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "http server forced to shutdown", zap.Error(err))
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "hub shutdown reported an error", zap.Error(err))
	}
	logging.Info(ctx, "signal server exited")
}

// buildRegistry wires a JWKS-backed Application Registry validator, wrapped
// in a Redis cache when one is configured. SKIP_APP_REGISTRY=true disables
// validation entirely for local development, mirroring the teacher's
// SKIP_AUTH escape hatch.
func buildRegistry(ctx context.Context, cfg *config.Config, cacheService *cache.Service) appregistry.Registry {
	if os.Getenv("SKIP_APP_REGISTRY") == "true" {
		logging.Warn(ctx, "application registry validation disabled for development")
		return nil
	}

	domain := os.Getenv("APP_REGISTRY_DOMAIN")
	audience := os.Getenv("APP_REGISTRY_AUDIENCE")
	if domain == "" || audience == "" {
		logging.Warn(ctx, "APP_REGISTRY_DOMAIN/APP_REGISTRY_AUDIENCE not set, running without app credential validation")
		return nil
	}

	jwks, err := appregistry.NewJWKSRegistry(ctx, domain, audience)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize application registry validator", zap.Error(err))
		return nil
	}

	if cacheService == nil {
		return jwks
	}
	return appregistry.NewCachingRegistry(jwks, cacheService, 5*time.Minute)
}
