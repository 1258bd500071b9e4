package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds the response headers appropriate for a JSON API
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Protect against content sniffing
		c.Header("X-Content-Type-Options", "nosniff")

		// Protect against clickjacking
		c.Header("X-Frame-Options", "DENY")

		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		c.Next()
	}
}
