package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireRole admits only callers whose token carries role. It must run after
// JWTAuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}
