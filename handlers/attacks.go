package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"zone-contest-system/middleware"
	"zone-contest-system/services"
)

type attackRequest struct {
	ZoneID string `json:"zone_id" validate:"required,max=128"`
	locationRequest
}

// attackLimiter throttles attack submissions per user on top of the per-zone cooldown
func attackLimiter(perMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			// copied by UserContextMiddleware, safe as a storage key
			return middleware.UserID(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many attacks, slow down",
				"code":  "rate_limited",
			})
		},
	})
}

func SetupAttackRoutes(router fiber.Router, attacks *services.AttackService, perMinute int) {
	g := router.Group("/attacks")

	g.Post("/", attackLimiter(perMinute), func(c *fiber.Ctx) error {
		var req attackRequest
		if err := bindBody(c, &req); err != nil {
			return validationError(c, err)
		}
		result, err := attacks.Attack(c.UserContext(), middleware.UserID(c), req.ZoneID, req.point())
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	history := func(defaultKind string) fiber.Handler {
		return func(c *fiber.Ctx) error {
			kind, err := services.ParseHistoryKind(c.Query("type", defaultKind))
			if err != nil {
				return respondError(c, err)
			}
			list, err := attacks.History(c.UserContext(), middleware.UserID(c), kind, c.QueryInt("limit"))
			if err != nil {
				return respondError(c, err)
			}
			return c.JSON(fiber.Map{"attacks": list, "type": kind})
		}
	}
	g.Get("/", history(string(services.HistoryMade)))
	g.Get("/history", history(string(services.HistoryAll)))

	g.Get("/cooldowns", func(c *fiber.Ctx) error {
		cooldowns, err := attacks.ActiveCooldowns(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"cooldowns": cooldowns})
	})

	g.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := attacks.Stats(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})
}
