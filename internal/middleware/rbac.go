package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/response"
)

// RBAC enforces role-based access control for routes. A user passes when any
// of their assigned roles is in the allowed set. The pseudo-role "SELF"
// additionally admits requests whose :id path parameter matches the caller.
func RBAC(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		allowSelf := false
		for _, a := range allowed {
			if a == "SELF" {
				allowSelf = true
				continue
			}
			if claims.HasRole(a) {
				c.Next()
				return
			}
		}

		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}
