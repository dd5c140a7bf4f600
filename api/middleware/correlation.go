package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/casefinder/metrics"
)

// Context keys set by this package. APIKeyKey holds a KeyIdentity, never
// the key itself.
const (
	APIKeyKey        = "api_key"
	CorrelationIDKey = "correlation_id"
)

// RequestIDHeader carries the correlation id in and out.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

// Correlation tags every request with a correlation id, taken from the
// X-Request-ID header when the caller supplies one. The id is echoed back and
// stored on the request context, where the search pipeline picks it up for
// its log lines and metric events.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		c.Set(CorrelationIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(metrics.WithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}
