package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
)

type fakeCoordinator struct {
	pingErr error
}

func (f *fakeCoordinator) Publish(context.Context, string, []byte) error { return nil }
func (f *fakeCoordinator) SubscribePattern(context.Context, string, coordinator.PatternHandler) error {
	return nil
}
func (f *fakeCoordinator) HashSet(context.Context, string, map[string]string) error { return nil }
func (f *fakeCoordinator) HashGetAll(context.Context, string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeCoordinator) Del(context.Context, string) error { return nil }
func (f *fakeCoordinator) Ping(context.Context) error         { return f.pingErr }
func (f *fakeCoordinator) Close() error                       { return nil }

func TestLiveness_AlwaysReturns200(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/live", nil)

	handler.Liveness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
	assert.Contains(t, w.Body.String(), "timestamp")
}

func TestReadiness_NilCoordinator(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReadiness_CoordinatorHealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(&fakeCoordinator{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "status")
	assert.Contains(t, body, "checks")
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "coordinator")
}

func TestReadiness_CoordinatorUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(&fakeCoordinator{pingErr: errors.New("connection refused")})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health/ready", nil)

	handler.Readiness(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "unavailable")
	assert.Contains(t, body, "unhealthy")
}
