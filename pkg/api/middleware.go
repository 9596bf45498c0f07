package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthhq/hearth/pkg/auth"
)

const (
	identityKey = "hearth.identity"
	roleAdmin   = "admin"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requestLogger logs each request at debug, and failures at warn.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		}
		if status >= http.StatusInternalServerError {
			slog.Warn("HTTP request failed", attrs...)
			return
		}
		slog.Debug("HTTP request", attrs...)
	}
}

// requireIdentity authenticates the bearer token with the same provider the
// hub uses for channel auth and stores the identity on the context.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" {
			abortWithError(c, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.identity.Authenticate(c.Request.Context(), token)
		if err != nil {
			slog.Debug("Rejected API credential", "error", err)
			abortWithError(c, http.StatusUnauthorized, "invalid credential")
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if identityFrom(c).Role != role {
			abortWithError(c, http.StatusForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message})
}
