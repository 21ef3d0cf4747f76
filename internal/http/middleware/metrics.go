package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/magnifycash/backend/internal/observability"
)

// Metrics records per-route request latency. The route template is used
// rather than the raw path so parameterized routes collapse into one series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		observability.RequestLatency.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
