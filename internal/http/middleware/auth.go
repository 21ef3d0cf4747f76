package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/auth"
)

func RequireAuth(jwt *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set("address", claims.Address)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// Address returns the authenticated wallet address set by RequireAuth.
func Address(c *gin.Context) string {
	v, _ := c.Get("address")
	addr, _ := v.(string)
	return addr
}
