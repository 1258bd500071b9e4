package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pma2020/pma-api/internal/auth"
	"github.com/pma2020/pma-api/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger writes one http_request record per request and echoes a
// request id back to the caller. Routes listed in quiet are only logged in
// debug mode.
func RequestLogger(quiet ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(quiet))
	for _, route := range quiet {
		skip[route] = true
	}

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		if skip[route] && gin.Mode() != gin.DebugMode {
			return
		}

		status := c.Writer.Status()
		attrs := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		if value, ok := c.Get(claimsKey); ok {
			if claims, ok := value.(*auth.Claims); ok {
				attrs = append(attrs, "subject", claims.Subject)
			}
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logging.L().Log(c.Request.Context(), level, "http_request", attrs...)
	}
}
