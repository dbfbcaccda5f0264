package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	futils "github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"zone-contest-system/logger"
)

const (
	localUserID    = "user_id"
	localUserRoles = "user_roles"

	// RoleStaff may trigger manual leaderboard refreshes
	RoleStaff = "staff"
)

// UserContextMiddleware extracts the user identity and roles set by the gateway.
// Requests without X-User-ID are rejected. Values are copied out of the request
// buffer since services keep them as ids.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := futils.CopyString(strings.TrimSpace(c.Get("X-User-ID")))
		if userID == "" {
			logger.Warn("X-User-ID missing on secured route", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
				"code":  "unauthorized",
			})
		}

		var roles []string
		for _, r := range strings.Split(futils.CopyString(c.Get("X-User-Roles")), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserRoles, roles)

		logger.Debug("User context",
			zap.String("user_id", userID),
			zap.Strings("roles", roles),
			zap.String("path", c.Path()),
		)

		return c.Next()
	}
}

// RequireRole rejects requests whose user context lacks role
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
				"code":  "forbidden",
			})
		}
		return c.Next()
	}
}

// UserID returns the caller id stored by UserContextMiddleware
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// HasRole reports whether the caller carries role
func HasRole(c *fiber.Ctx, role string) bool {
	roles, _ := c.Locals(localUserRoles).([]string)
	return slices.Contains(roles, role)
}
