package middleware

import (
	"net/http"
	"strings"

	"voicelink-backend/pkg/env"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware restricts the REST surface to known browser origins. The
// defaults cover local frontend development; production deployments extend
// the set through CORS_ALLOWED_ORIGINS (comma-separated). The WebSocket
// upgrade enforces its own origin check in the handshake.
func CORSMiddleware() gin.HandlerFunc {
	allowedOrigins := map[string]bool{
		"http://localhost:3000":     true,
		"http://localhost:8080":     true,
		"http://127.0.0.1:3000":     true,
		"http://127.0.0.1:8080":     true,
		"https://app.voicelink.app": true,
	}

	if origins := env.GetString("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		} else if origin != "" {
			// Cross-origin request from an unknown origin.
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
