package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/logging"
	"go.uber.org/zap"
)

// Handler manages health check endpoints.
type Handler struct {
	coord coordinator.Coordinator
}

// NewHandler creates a new health check handler. coord may be nil, in which
// case readiness always reports the coordinator as healthy (useful for
// tests that don't care about coordinator wiring).
func NewHandler(coord coordinator.Coordinator) *Handler {
	return &Handler{coord: coord}
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
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// Returns 200 only if the coordinator is reachable, 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"coordinator": h.checkCoordinator(ctx)}

	status := "ready"
	statusCode := http.StatusOK
	if checks["coordinator"] != "healthy" {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkCoordinator(ctx context.Context) string {
	if h.coord == nil {
		return "healthy"
	}
	if err := h.coord.Ping(ctx); err != nil {
		logging.Error(ctx, "coordinator health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
