package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore forbids intermediary and browser caching. Passation payloads carry
// exam answers and must always be served fresh.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
