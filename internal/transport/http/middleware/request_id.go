package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/identity-link-service/internal/infra/logger"
)

const (
	// RequestIDHeader carries the correlation identifier in both directions.
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey is the gin context key for the correlation identifier.
	RequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestID injects a correlation identifier into the request context so that
// logger.FromContext picks it up in every layer below the handler.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" || len(reqID) > maxRequestIDLength {
			reqID = uuid.NewString()
		}

		c.Set(RequestIDKey, reqID)
		c.Writer.Header().Set(RequestIDHeader, reqID)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), reqID))

		c.Next()
	}
}

// GetRequestID returns the correlation identifier set by RequestID.
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
