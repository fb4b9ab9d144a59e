package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/meshplay/signalserver/internal/v1/cache"
	"github.com/meshplay/signalserver/internal/v1/logging"
	"go.uber.org/zap"
)

// AppRegistryChecker checks the health of the Application Registry.
type AppRegistryChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultAppRegistryChecker is the default implementation of AppRegistryChecker.
type DefaultAppRegistryChecker struct{}

// Check verifies gRPC connectivity to the Application Registry using the
// standard health check protocol.
func (c *DefaultAppRegistryChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "failed to connect to application registry for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)

	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{
		Service: "",
	})
	if err != nil {
		logging.Error(ctx, "application registry health check RPC failed", zap.Error(err))
		return "unhealthy"
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "application registry is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}

	return "healthy"
}

// Handler manages health check endpoints.
type Handler struct {
	cache              *cache.Service
	appRegistryAddr    string
	appRegistryEnabled bool
	appRegistryChecker AppRegistryChecker
}

// NewHandler creates a new health check handler.
func NewHandler(cacheService *cache.Service) *Handler {
	addr := os.Getenv("APP_REGISTRY_ADDR")
	if addr == "" {
		addr = "localhost:50051"
	}

	enabled := os.Getenv("APP_REGISTRY_HEALTH_CHECK_ENABLED") != "false"

	return &Handler{
		cache:              cacheService,
		appRegistryAddr:    addr,
		appRegistryEnabled: enabled,
		appRegistryChecker: &DefaultAppRegistryChecker{},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy.
// Returns 503 if any dependency is unhealthy.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkCache(ctx)
	checks["cache"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.appRegistryEnabled {
		registryStatus := h.checkAppRegistry(ctx)
		checks["app_registry"] = registryStatus
		if registryStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkCache verifies the registry/rate-limit cache's Redis connectivity.
func (h *Handler) checkCache(ctx context.Context) string {
	if h.cache == nil {
		// No Redis configured (single-instance dev mode): not a failure.
		return "healthy"
	}

	if err := h.cache.Ping(ctx); err != nil {
		logging.Error(ctx, "cache health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkAppRegistry verifies gRPC connectivity to the Application Registry.
func (h *Handler) checkAppRegistry(ctx context.Context) string {
	if h.appRegistryChecker == nil {
		return "unhealthy"
	}
	return h.appRegistryChecker.Check(ctx, h.appRegistryAddr)
}

// HealthCheckResponse is a generic health check response for backward compatibility.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
