package middleware

import (
	"time"

	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware observes latency per route template, not raw path, so
// bot ids do not explode label cardinality.
func MetricsMiddleware(sink metrics.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		sink.RequestLatency(route, time.Since(start).Seconds())
	}
}
