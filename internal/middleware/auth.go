package middleware

import (
	"strings"

	"activation-api/internal/apperr"
	"activation-api/internal/response"
	"activation-api/internal/services"

	"github.com/gin-gonic/gin"
)

// Context keys set by AdminAuthMiddleware
const (
	ContextAdminID    = "admin_id"
	ContextAdminEmail = "admin_email"
	ContextClaims     = "admin_claims"
)

// AdminAuthMiddleware requires a bearer token carrying the admin role
func AdminAuthMiddleware(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			response.AbortFail(c, apperr.New(apperr.Unauthorized, "Access token required"))
			return
		}

		claims, err := auth.ParseToken(token)
		if err != nil {
			response.AbortFail(c, err)
			return
		}

		// Store admin identity in context
		c.Set(ContextAdminID, claims.UserID)
		c.Set(ContextAdminEmail, claims.Email)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// AdminEmail returns the authenticated admin's email
func AdminEmail(c *gin.Context) string {
	return c.GetString(ContextAdminEmail)
}
