package middleware

import (
	"net/http"
	"time"

	"clubsched/internal/shared/utils/response"
	"clubsched/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"
	TenantHeader    = "X-Tenant-ID"

	requestIDKey = "request_id"
	tenantIDKey  = "tenant_id"
)

// RequestID propagates the caller's request ID or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs every request after it is served, and any errors the
// handlers attached to the context.
func RequestLogger(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.LogHTTPRequest(c, time.Since(start))

		if c.Writer.Status() >= http.StatusInternalServerError {
			for _, ginErr := range c.Errors {
				l.LogHTTPError(c, ginErr.Err, c.Writer.Status())
			}
		}
	}
}

// Tenant reads the tenant header. Requests without one are rejected when
// required is set; otherwise the tenant is simply left unset.
func Tenant(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantHeader)
		if raw == "" {
			if required {
				response.RespondJSON(c, "error", http.StatusBadRequest, "X-Tenant-ID header is required", nil, nil)
				c.Abort()
				return
			}
			c.Next()
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid X-Tenant-ID header", nil, err.Error())
			c.Abort()
			return
		}

		c.Set(tenantIDKey, tenantID)
		c.Next()
	}
}

// TenantID returns the tenant set by Tenant, or uuid.Nil.
func TenantID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(tenantIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
