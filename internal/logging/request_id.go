package logging

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ginRequestIDKey stores the request ID on a gin context.
const ginRequestIDKey = "requestID"

// RequestIDHeader carries the request ID on responses.
const RequestIDHeader = "X-Request-Id"

// RequestIDMiddleware assigns each request an ID, honoring one supplied by
// the caller, and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		SetGinRequestID(c, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// SetGinRequestID stores the request ID on a gin context.
func SetGinRequestID(c *gin.Context, requestID string) {
	if c == nil {
		return
	}
	c.Set(ginRequestIDKey, requestID)
}

// GinRequestID returns the request ID stored on a gin context, if any.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(ginRequestIDKey); ok {
		if id, okCast := v.(string); okCast {
			return id
		}
	}
	return ""
}
