package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAdmin guards the staff routes with a shared token, sent either as a
// bearer token or in X-Admin-Token. An empty token leaves the routes open.
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if h := c.GetHeader("Authorization"); got == "" && len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			got = h[7:]
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid admin token", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}
