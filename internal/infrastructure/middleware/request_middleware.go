package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"lanlink/pkg/logger"
	"lanlink/pkg/utils"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses a sane incoming X-Request-ID or generates one,
// and stores it in the request context for logging.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 || strings.ContainsAny(id, " \r\n") {
			id = utils.GenerateRequestID()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLogMiddleware logs one line per request. Probe and scrape paths
// are logged at debug level.
func AccessLogMiddleware(cl *logger.ContextLogger, quietPaths ...string) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(quietPaths))
	for _, p := range quietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := cl.WithContext(c.Request.Context())
		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		}
		if _, ok := quiet[c.Request.URL.Path]; ok {
			log.Debugw("http request", fields...)
			return
		}
		log.Infow("http request", fields...)
	}
}
