package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fleet-records-go/internal/throttle"
)

// RateLimit middleware limits requests per client IP
func RateLimit(limiter *throttle.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if !limiter.Allow(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "Rate limit exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
