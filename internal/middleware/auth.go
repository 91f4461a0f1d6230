package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"EscrowEngine/internal/models"
)

var errEmptySecret = errors.New("jwt secret is not configured")

const (
	LocalUserID = "user_id"
	LocalRoles  = "roles"
)

// RoleResolver looks up the caller's application roles.
type RoleResolver interface {
	Roles(ctx context.Context, userID string) ([]models.AppRole, error)
}

// Protected validates the HS256 bearer token and stores the subject and its
// roles in the request locals. Roles are resolved once per request. An empty
// secret rejects every token.
func Protected(secret string, roles RoleResolver, log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
				"code":  "UNAUTHORIZED",
			})
		}

		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
			if secret == "" {
				return nil, errEmptySecret
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.Subject == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
				"code":  "UNAUTHORIZED",
			})
		}

		userRoles, err := roles.Roles(c.UserContext(), claims.Subject)
		if err != nil {
			log.WithField("user_id", claims.Subject).WithError(err).Error("Failed to resolve roles")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Internal server error",
				"code":  "INTERNAL",
			})
		}

		c.Locals(LocalUserID, claims.Subject)
		c.Locals(LocalRoles, userRoles)
		return c.Next()
	}
}

// AdminOnly admits admins and moderators. It must run after Protected.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, r := range RolesOf(c) {
			if r == models.RoleAdmin || r == models.RoleModerator {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
			"code":  "UNAUTHORIZED",
		})
	}
}

func UserIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

func RolesOf(c *fiber.Ctx) []models.AppRole {
	roles, _ := c.Locals(LocalRoles).([]models.AppRole)
	return roles
}
