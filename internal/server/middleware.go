package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/apisentinel/sentinel/internal/gate"
	"github.com/apisentinel/sentinel/internal/observability"
)

const (
	// RequestIDHeader carries the request ID, generated when absent.
	RequestIDHeader = "X-Request-ID"
	// AdminTokenHeader carries the static admin token.
	AdminTokenHeader = "X-Admin-Token"

	decisionKey = "authDecision"
)

// requestLogging logs each request with its ID, latency and status.
func requestLogging(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []observability.Field{
			observability.String("request_id", requestID),
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", status),
			observability.Duration("latency", time.Since(start)),
			observability.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("request completed", fields...)
		case status >= 400:
			logger.Warn("request completed", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// adminAuth guards the admin group with a static token. An empty
// configured token disables the admin API entirely.
func adminAuth(token string, logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			logger.Warn("admin request rejected, no admin token configured")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}
		presented := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// requireKey authenticates the request through the gate. Every deny
// maps to the same generic 401 so callers learn nothing about why.
func requireKey(g *gate.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision := g.Authenticate(c.Request.Context(), &gate.Request{
			ClientIP: c.ClientIP(),
			Path:     c.Request.URL.Path,
			Header:   c.Request.Header,
			Query:    c.Request.URL.Query(),
		})
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(decisionKey, decision)
		c.Next()
	}
}

// decisionFrom returns the gate decision stored by requireKey.
func decisionFrom(c *gin.Context) (gate.Decision, bool) {
	v, ok := c.Get(decisionKey)
	if !ok {
		return gate.Decision{}, false
	}
	d, ok := v.(gate.Decision)
	return d, ok
}
