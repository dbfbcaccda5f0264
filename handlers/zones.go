package handlers

import (
	"github.com/gofiber/fiber/v2"

	"zone-contest-system/geo"
	"zone-contest-system/middleware"
	"zone-contest-system/services"
)

type locationRequest struct {
	Latitude  *float64 `json:"latitude" query:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" query:"longitude" validate:"required,min=-180,max=180"`
}

func (r locationRequest) point() geo.Point {
	return geo.Point{Lat: *r.Latitude, Lng: *r.Longitude}
}

type nearbyQuery struct {
	locationRequest
	Radius float64 `query:"radius" validate:"omitempty,gt=0"`
}

func SetupZoneRoutes(router fiber.Router, zones *services.ZoneService) {
	g := router.Group("/zones")

	g.Get("/nearby", func(c *fiber.Ctx) error {
		var q nearbyQuery
		if err := bindQuery(c, &q); err != nil {
			return validationError(c, err)
		}
		views, err := zones.Nearby(c.UserContext(), q.point(), q.Radius)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"zones": views, "count": len(views)})
	})

	g.Get("/mine", func(c *fiber.Ctx) error {
		views, err := zones.PlayerZones(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"zones": views, "count": len(views)})
	})

	g.Get("/checkins", func(c *fiber.Ctx) error {
		checkIns, err := zones.CheckInHistory(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"checkins": checkIns})
	})

	checkIn := func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bindBody(c, &req); err != nil {
			return validationError(c, err)
		}
		result, err := zones.CheckIn(c.UserContext(), middleware.UserID(c), req.point(), param(c, "id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	}
	// the zone id is derived from the location when omitted
	g.Post("/checkin", checkIn)
	g.Post("/:id/checkin", checkIn)

	g.Post("/:id/claim", func(c *fiber.Ctx) error {
		var req locationRequest
		if err := bindBody(c, &req); err != nil {
			return validationError(c, err)
		}
		result, err := zones.Claim(c.UserContext(), middleware.UserID(c), param(c, "id"), req.point())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	g.Get("/:id", func(c *fiber.Ctx) error {
		view, err := zones.GetZone(c.UserContext(), param(c, "id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})
}
