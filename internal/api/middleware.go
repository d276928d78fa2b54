package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/engramhq/engram/internal/logging"
)

// DefaultBodyLimit bounds request bodies: a memory tops out at 1 MiB, so
// anything much larger is garbage.
const DefaultBodyLimit = 2 << 20

// MaxBodySizeMiddleware rejects request bodies over limit bytes. The bulk
// import endpoint is exempt: it streams arbitrarily many nodes.
func MaxBodySizeMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasSuffix(c.Request.URL.Path, "/admin/import") {
			c.Next()
			return
		}
		if c.Request.ContentLength > limit {
			ErrorResponse(c, http.StatusRequestEntityTooLarge, "request body too large")
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// RequestLogMiddleware logs each request with its latency and status.
func RequestLogMiddleware(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
