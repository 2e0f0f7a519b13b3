package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"

	contextRequestID = "requestID"
	maxRequestIDLen  = 128
)

// RequestIDMiddleware tags each request with an id, reusing a sane incoming
// X-Request-Id, and echoes it in the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(contextRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestID returns the id set by RequestIDMiddleware.
func RequestID(c *gin.Context) string {
	return c.GetString(contextRequestID)
}
