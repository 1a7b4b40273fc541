package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	usernameHeader = "X-Username"
	usernameKey    = "username"
)

// UsernameMiddleware rejects requests without an acting user and stores it
// for handlers. The header is trusted; authentication happens upstream.
func UsernameMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := strings.TrimSpace(c.GetHeader(usernameHeader))
		if username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + usernameHeader + " header"})
			return
		}
		c.Set(usernameKey, username)
		c.Next()
	}
}

// Username returns the acting user set by UsernameMiddleware.
func Username(c *gin.Context) string {
	return c.GetString(usernameKey)
}
