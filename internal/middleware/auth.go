package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/voxpipe/api/internal/auth"
	"github.com/voxpipe/api/pkg/response"
)

// AuthMiddleware validates HMAC-signed bearer tokens.
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware creates auth middleware with an HMAC secret.
func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// Authenticate validates the JWT token from the Authorization header.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if m.jwtSecret == "" {
			return response.Unauthorized(c, "Authentication not configured")
		}

		claims, err := auth.ValidateToken(parts[1], m.jwtSecret)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", claims.UserID)
		c.Locals("email", claims.Email)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// GatewayAuthMiddleware trusts identity headers set by an upstream gateway
// that has already authenticated the request.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing gateway identity headers")
		}
		c.Locals("userId", userID)
		c.Locals("email", c.Get("X-User-Email"))
		return c.Next()
	}
}

// GetUserID extracts the authenticated user id from the request context.
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
