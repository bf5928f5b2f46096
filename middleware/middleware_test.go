package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellbook/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(v *utils.TokenVerifier) *gin.Engine {
	r := gin.New()
	r.GET("/me", JWTAuthMiddleware(v), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": CallerID(c), "role": c.GetString(ContextRole)})
	})
	r.GET("/admin", JWTAuthMiddleware(v), RequireRole(utils.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	v := utils.NewTokenVerifier("test-secret")
	r := protectedRouter(v)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	other, err := utils.NewTokenVerifier("other-secret").GenerateToken("client-a", "user", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := v.GenerateToken("client-a", "user", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"client-a","role":"user"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	v := utils.NewTokenVerifier("test-secret")
	r := protectedRouter(v)

	user, _ := v.GenerateToken("client-a", "user", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, _ := v.GenerateToken("ops-1", utils.RoleAdmin, time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiterIsPerIP(t *testing.T) {
	limiter := NewRateLimiter(2, zap.NewNop())
	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, hit("203.0.113.7"))
	assert.Equal(t, http.StatusOK, hit("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, hit("203.0.113.7"))
	assert.Equal(t, http.StatusOK, hit("198.51.100.4"))
}

func TestGetClientIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.10:5123"
	assert.Equal(t, "192.0.2.10", getClientIP(c))

	c.Request.Header.Set("X-Real-IP", " 192.0.2.20 ")
	assert.Equal(t, "192.0.2.20", getClientIP(c))

	c.Request.Header.Set("X-Forwarded-For", "192.0.2.30, 10.0.0.1")
	assert.Equal(t, "192.0.2.30", getClientIP(c))
}
