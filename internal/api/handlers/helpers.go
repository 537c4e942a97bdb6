package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/linkedin-scheduler/internal/api/middleware"
	"github.com/maheshrc27/linkedin-scheduler/internal/generator"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
)

func GetUserID(c *fiber.Ctx) int64 {
	session, ok := c.Locals(middleware.LocalSession).(*models.Session)
	if !ok {
		return 0
	}
	return session.UserID
}

// ErrorStatus maps domain errors to HTTP status codes.
func ErrorStatus(err error) int {
	var pe *models.PublishError
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidTimezone),
		errors.Is(err, models.ErrInvalidDateTime):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrNotConnected), errors.Is(err, models.ErrCredentialExpired):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, generator.ErrNoContent), errors.As(err, &pe):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status := ErrorStatus(err)
	if status == fiber.StatusInternalServerError {
		slog.Error(err.Error(), slog.String("path", c.Path()))
		return c.Status(status).JSON(fiber.Map{
			"error": "Something went wrong",
		})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func idParam(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, models.ErrNotFound
	}
	return int64(id), nil
}
