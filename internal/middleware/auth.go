package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lers-io/lers-ce/internal/apierrors"
	"github.com/lers-io/lers-ce/internal/auth"
)

// Context keys set by JWTAuthMiddleware.
const (
	CtxUserID   = "user_id"
	CtxUserName = "user_name"
	CtxUserRole = "user_role"
)

// JWTAuthMiddleware authenticates requests with a bearer access token and
// stores the caller identity on the gin context.
func JWTAuthMiddleware(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			apierrors.Error(c, apierrors.CodeUnauthorized)
			c.Abort()
			return
		}

		claims, err := jwtManager.Validate(token)
		if err != nil {
			apierrors.Error(c, apierrors.CodeInvalidToken)
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.UserName)
		c.Set(CtxUserRole, claims.Role)
		c.Next()
	}
}

// extractToken pulls the bearer token from the Authorization header, falling
// back to the token query parameter (used by the websocket handshake, where
// browsers cannot set headers).
func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
