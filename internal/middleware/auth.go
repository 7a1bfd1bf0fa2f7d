package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hotspotbill/backend/internal/database"
	"github.com/hotspotbill/backend/internal/models"
	"gorm.io/gorm"
)

const tokenIssuer = "hotspotbill"

// JWTClaims represents JWT token claims
type JWTClaims struct {
	UserID   uint            `json:"user_id"`
	Username string          `json:"username"`
	Role     models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for user valid for the given duration
func GenerateToken(user *models.User, secret string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(ttl)
	claims := JWTClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, expires, err
}

// ParseToken validates a signed token and returns its claims
func ParseToken(tokenString, secret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>"
func BearerToken(c *fiber.Ctx) string {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// AuthRequired middleware to protect routes
func AuthRequired(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get(fiber.HeaderAuthorization) == "" {
			return unauthorized(c, "Missing authorization header")
		}
		tokenString := BearerToken(c)
		if tokenString == "" {
			return unauthorized(c, "Invalid authorization header format")
		}

		// Check if token is blacklisted (user logged out)
		if database.IsTokenBlacklisted(tokenString) {
			return unauthorized(c, "Token has been revoked (logged out)")
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		// Role changes and deactivation apply to tokens already issued
		var user models.User
		if err := db.WithContext(c.UserContext()).First(&user, claims.UserID).Error; err != nil {
			return unauthorized(c, "User not found")
		}
		if !user.IsActive {
			return unauthorized(c, "User account is disabled")
		}

		c.Locals("user", &user)
		c.Locals("userID", user.ID)
		c.Locals("username", user.Username)
		c.Locals("role", user.Role)
		c.Locals("token", tokenString)
		if claims.ExpiresAt != nil {
			c.Locals("tokenExpires", claims.ExpiresAt.Time)
		}

		return c.Next()
	}
}

// RequireRole lets through only users holding one of roles
func RequireRole(roles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := GetCurrentRole(c)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"success": false,
			"message": "Permission denied",
		})
	}
}

// AdminOnly middleware to restrict to admin users
func AdminOnly() fiber.Handler {
	return RequireRole(models.RoleAdmin)
}

// Staff restricts to admins and operators
func Staff() fiber.Handler {
	return RequireRole(models.RoleAdmin, models.RoleOperator)
}

// GetCurrentUser returns the current user from context
func GetCurrentUser(c *fiber.Ctx) *models.User {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetCurrentUserID returns the current user ID from context
func GetCurrentUserID(c *fiber.Ctx) uint {
	userID, ok := c.Locals("userID").(uint)
	if !ok {
		return 0
	}
	return userID
}

// GetCurrentRole returns the role of the authenticated user
func GetCurrentRole(c *fiber.Ctx) models.UserRole {
	role, _ := c.Locals("role").(models.UserRole)
	return role
}

// CurrentToken returns the bearer token and its expiry for logout
func CurrentToken(c *fiber.Ctx) (string, time.Time) {
	token, _ := c.Locals("token").(string)
	expires, _ := c.Locals("tokenExpires").(time.Time)
	return token, expires
}
