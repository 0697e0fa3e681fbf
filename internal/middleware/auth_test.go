package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinical-forms-server/internal/config"
	"clinical-forms-server/internal/models"
	"clinical-forms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(zap.NewNop()))
	r.Use(AuthMiddleware(cfg))
	r.GET("/me", func(c *gin.Context) {
		actor, _ := GetActor(c)
		c.JSON(http.StatusOK, actor)
	})
	r.GET("/admin", RoleAuthMiddleware(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func request(t *testing.T, r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("User-Agent", "ward-tablet/1.0")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	r := newRouter(cfg)

	assert.Equal(t, http.StatusUnauthorized, request(t, r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(t, r, "/me", "garbage").Code)

	token, err := utils.GenerateToken("u-nurse", models.RoleNurse, "secret", time.Minute)
	require.NoError(t, err)
	w := request(t, r, "/me", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"userId":"u-nurse"`)
	assert.Contains(t, w.Body.String(), `"role":"nurse"`)
	assert.Contains(t, w.Body.String(), `"userAgent":"ward-tablet/1.0"`)
}

func TestRoleAuthMiddleware(t *testing.T) {
	cfg := &config.Config{JWTSecret: "secret"}
	r := newRouter(cfg)

	nurse, err := utils.GenerateToken("u-nurse", models.RoleNurse, "secret", time.Minute)
	require.NoError(t, err)
	admin, err := utils.GenerateToken("u-admin", models.RoleAdmin, "secret", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, request(t, r, "/admin", nurse).Code)
	assert.Equal(t, http.StatusNoContent, request(t, r, "/admin", admin).Code)
}
