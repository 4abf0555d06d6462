package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, time.Since(start))
	}
}

// Timer measures a remote call round trip
type Timer struct {
	start   time.Time
	metrics *Metrics
	domain  string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, domain string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		domain:  domain,
	}
}

// Stop stops the timer and records the call outcome
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordCall(t.domain, outcome, time.Since(t.start))
}
