package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/auth"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
)

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and sets the caller in context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			handler.Fail(c, apperrors.Unauthorized("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			handler.Fail(c, apperrors.Unauthorized("invalid authorization format"))
			return
		}

		caller, err := m.jwt.Validate(parts[1])
		if err != nil {
			handler.Fail(c, apperrors.Unauthorized("invalid token"))
			return
		}

		handler.SetCaller(c, caller)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := handler.MustCaller(c)
		if !ok {
			return
		}
		for _, role := range roles {
			if caller.Is(role) {
				c.Next()
				return
			}
		}
		handler.Fail(c, apperrors.Forbidden("role "+string(caller.Role)+" may not perform this action"))
	}
}
