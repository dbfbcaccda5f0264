package handlers

import (
	"github.com/gofiber/fiber/v2"

	"zone-contest-system/middleware"
	"zone-contest-system/models"
	"zone-contest-system/services"
)

func parseCategory(c *fiber.Ctx) (models.LeaderboardCategory, error) {
	category, err := models.ParseCategory(param(c, "category"))
	if err != nil {
		return "", services.ErrInvalidCategory
	}
	return category, nil
}

func SetupLeaderboardRoutes(router fiber.Router, lb *services.LeaderboardService) {
	g := router.Group("/leaderboard")

	// static paths first so they do not match :category
	g.Get("/stats", func(c *fiber.Ctx) error {
		stats, err := lb.Stats(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	g.Get("/me/ranks", func(c *fiber.Ctx) error {
		ranks, err := lb.RankAll(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"ranks": ranks})
	})

	g.Get("/players/:id/stats", func(c *fiber.Ctx) error {
		stats, err := lb.PlayerStats(c.UserContext(), param(c, "id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})

	g.Post("/refresh", middleware.RequireRole(middleware.RoleStaff), func(c *fiber.Ctx) error {
		refreshed, err := lb.Refresh(c.UserContext(), c.Query("category", "all"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"refreshed": refreshed})
	})

	g.Get("/:category", func(c *fiber.Ctx) error {
		category, err := parseCategory(c)
		if err != nil {
			return respondError(c, err)
		}
		entries, err := lb.GetLeaderboard(c.UserContext(), category, c.QueryInt("limit"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"category": category, "entries": entries})
	})

	g.Get("/:category/snapshots", func(c *fiber.Ctx) error {
		category, err := parseCategory(c)
		if err != nil {
			return respondError(c, err)
		}
		snapshots, err := lb.Snapshots(c.UserContext(), category, c.QueryInt("limit"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"category": category, "snapshots": snapshots})
	})
}
