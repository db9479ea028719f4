package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/audit"
	"github.com/shopdesk/shopdesk/internal/db/models"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	RequestIDKey = "request_id"
)

// RequestIDMiddleware ensures every request carries a unique identifier
// propagated as an X-Request-ID HTTP header.
//
// An inbound X-Request-ID (set by a load balancer or the caller) is reused
// unchanged; otherwise a new UUID v4 is generated. The identifier is stored in
// gin.Context under RequestIDKey and echoed back in the response header.
//
// The request context is also given the client IP, user agent and request id
// so audit events recorded while handling the request carry them.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		ctx := audit.WithRequestMeta(c.Request.Context(), models.RequestMeta{
			SourceIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: id,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
