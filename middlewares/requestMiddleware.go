package middlewares

import (
	"github.com/digitax/fbr_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestMiddleware stamps every request with an id and records the
// caller's address and agent so audit rows can carry them.
func RequestMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestId := c.Request.Header.Get("X-Request-ID")
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestId)

		ctx := utils.SetRequestIdInContext(c.Request.Context(), requestId)
		ctx = utils.SetIpAddressInContext(ctx, c.ClientIP())
		ctx = utils.SetUserAgentInContext(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
