package ginlog

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries a caller-chosen request ID.
	RequestIDHeader = "X-Request-Id"
	// RequestIDKey is the gin context key of the request ID.
	RequestIDKey = "request-id"
	// RequestLoggerKey is the gin context key of the request logger.
	RequestLoggerKey = "request-logger"
)

// GetOrCreateRequestID returns the request ID of c, taking it from the
// request header or generating one on first use.
func GetOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		return id.(string)
	}
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDKey, id)
	return id
}
