package middlewares

import (
	"net/http"

	"github.com/digitax/fbr_backend/utils"
	"github.com/gin-gonic/gin"
)

// TenantMiddleware resolves which tenant database the request targets.
// The token claim wins; the X-Tenant-ID header is the fallback for
// service-to-service calls that carry no user token. Requests that
// resolve no tenant at all are rejected before they touch a handler.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok && tenantId != "" {
			c.Next()
			return
		}

		headerTenant := c.Request.Header.Get("X-Tenant-ID")
		if headerTenant == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant not resolved"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(utils.SetTenantIdInContext(ctx, headerTenant))
		c.Next()
	}
}
