package middlewares

import (
	"net/http"
	"strings"

	"github.com/digitax/fbr_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the bearer token and hangs the actor's
// identity on the request context. A missing header is allowed through so
// capture paths can still record with null actor fields; a present but
// invalid token is rejected.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")

		if auth == "" {
			c.Next()
			return
		}

		bearer := "Bearer "
		if strings.HasPrefix(auth, bearer) {
			auth = auth[len(bearer):]
		}

		validate, err := utils.JwtValidate(auth)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), claim.ID)
		ctx = utils.SetUserEmailInContext(ctx, claim.Email)
		ctx = utils.SetUserNameInContext(ctx, claim.Name)
		ctx = utils.SetUserRoleInContext(ctx, claim.Role)
		if claim.TenantId != "" {
			ctx = utils.SetTenantIdInContext(ctx, claim.TenantId)
		}
		if claim.TenantName != "" {
			ctx = utils.SetTenantNameInContext(ctx, claim.TenantName)
		}
		if claim.Role == "admin" {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
