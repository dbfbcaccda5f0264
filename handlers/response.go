package handlers

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	futils "github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"zone-contest-system/logger"
	"zone-contest-system/services"
)

var validate = validator.New()

var statusByKind = map[services.ErrorKind]int{
	services.KindNotFound:         fiber.StatusNotFound,
	services.KindInvalidOperation: fiber.StatusBadRequest,
	services.KindOutOfRange:       fiber.StatusBadRequest,
	services.KindRateLimited:      fiber.StatusTooManyRequests,
	services.KindUnauthorized:     fiber.StatusUnauthorized,
}

// respondError maps a service error onto a JSON error response
func respondError(c *fiber.Ctx, err error) error {
	ge, ok := services.AsGameError(err)
	if !ok {
		logger.ErrorCtx(c.UserContext(), err, zap.String("method", c.Method()), zap.String("path", c.Path()))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  "internal",
		})
	}

	status, ok := statusByKind[ge.Kind]
	if !ok {
		status = fiber.StatusBadRequest
	}

	body := fiber.Map{"error": ge.Message, "code": ge.Code}
	if ge.Kind == services.KindRateLimited {
		body["retry_after_minutes"] = ge.RemainingMinutes
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(ge.RemainingMinutes*60))
	}
	return c.Status(status).JSON(body)
}

func validationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "invalid request",
		"code":  "validation_failed",
		"cause": err.Error(),
	})
}

// param returns a route parameter that is safe to keep after the request;
// fiber's own value aliases the reused request buffer.
func param(c *fiber.Ctx, name string) string {
	return futils.CopyString(c.Params(name))
}

// bindBody parses and validates a JSON body into req
func bindBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return err
	}
	return validate.Struct(req)
}

// bindQuery parses and validates query parameters into req
func bindQuery(c *fiber.Ctx, req any) error {
	if err := c.QueryParser(req); err != nil {
		return err
	}
	return validate.Struct(req)
}
