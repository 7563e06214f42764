package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/producttest-backend/internal/http/middleware"
	"github.com/ignatzorin/producttest-backend/internal/models"
)

func TestSessionHandler_GetSession_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &SessionHandler{svc: nil}
	r.GET("/test-sessions/:id", handler.GetSession)

	sessionID := uuid.New()
	req, _ := http.NewRequest("GET", "/test-sessions/"+sessionID.String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandler_Apply_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &SessionHandler{svc: nil}
	r.POST("/test-sessions/:id/apply", handler.Apply)

	campaignID := uuid.New()
	req, _ := http.NewRequest("POST", "/test-sessions/"+campaignID.String()+"/apply", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionHandler_GetSession_InvalidID_WithAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextActorKey, models.Actor{ID: uuid.New(), Role: models.RoleTester})
		c.Next()
	})
	handler := &SessionHandler{svc: nil}
	r.GET("/test-sessions/:id", handler.GetSession)

	req, _ := http.NewRequest("GET", "/test-sessions/invalid-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_Cancel_MissingReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextActorKey, models.Actor{ID: uuid.New(), Role: models.RoleTester})
		c.Next()
	})
	handler := &SessionHandler{svc: nil}
	r.POST("/test-sessions/:id/cancel", handler.Cancel)

	sessionID := uuid.New()
	req, _ := http.NewRequest("POST", "/test-sessions/"+sessionID.String()+"/cancel", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandler_ListMySessions_Unauthorized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := &SessionHandler{svc: nil}
	r.GET("/test-sessions/my", handler.ListMySessions)

	req, _ := http.NewRequest("GET", "/test-sessions/my", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
