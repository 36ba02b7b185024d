package middleware

import (
	"net/http"
	"strings"

	jwtsvc "marketplace/internal/pkg/jwt"
	"marketplace/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middleware.
const (
	KeyUserID = "user_id"
	KeyEmail  = "email"
	KeyRoles  = "roles"
)

// JWTAuth requires a valid, unexpired bearer access token.
func JWTAuth(tokens *jwtsvc.Service) gin.HandlerFunc {
	return bearerAuth(tokens.ValidateToken)
}

// JWTAuthAllowExpired accepts an access token past its expiry as long as the
// signature and the other claims check out. Only the refresh endpoint uses it.
func JWTAuthAllowExpired(tokens *jwtsvc.Service) gin.HandlerFunc {
	return bearerAuth(tokens.ValidateTokenAllowExpired)
}

func bearerAuth(validate func(string) (*jwtsvc.Claims, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.CustomError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			response.CustomError(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			c.Abort()
			return
		}

		claims, err := validate(parts[1])
		if err != nil {
			response.CustomError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			c.Abort()
			return
		}

		userID, _ := claims.UserID()
		c.Set(KeyUserID, userID)
		c.Set(KeyEmail, claims.Email)
		c.Set(KeyRoles, claims.Roles)
		c.Next()
	}
}
