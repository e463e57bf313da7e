package debug

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teeban10/kasagi-main/internal/v1/coordinator"
	"github.com/teeban10/kasagi-main/internal/v1/registry"
)

func TestHandler_ServeHTTP_RendersRoomCounts(t *testing.T) {
	gin.SetMode(gin.TestMode)

	coord := coordinator.NewMemoryCoordinator()
	reg := registry.New(coord, "instance-a")
	reg.GetOrCreate(context.Background(), "room-1")

	h := NewHandler(reg)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/debug/rooms", nil)

	h.ServeHTTP(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "room-1")
	assert.Contains(t, w.Body.String(), "Total rooms: 1")
}

func TestHandler_ServeHTTP_EmptyRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)

	coord := coordinator.NewMemoryCoordinator()
	reg := registry.New(coord, "instance-a")
	h := NewHandler(reg)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/debug/rooms", nil)

	h.ServeHTTP(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Total rooms: 0")
}
