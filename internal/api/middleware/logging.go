package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskgate/taskgate/pkg/logger"
)

// Logging logs HTTP requests as [method] path?query - status (latency).
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		logger.Infof("[%s] %s - %d (%v)", c.Request.Method, path, statusCode, latency)
	}
}
