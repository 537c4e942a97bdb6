package handlers

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/linkedin-scheduler/configs"
	"github.com/maheshrc27/linkedin-scheduler/internal/service"
)

type PlatformHandler struct {
	as  service.AccountService
	cfg config.Config
}

func NewPlatformHandler(as service.AccountService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		as:  as,
		cfg: cfg,
	}
}

func (h *PlatformHandler) AddLinkedInAccount(c *fiber.Ctx) error {
	authURL, err := h.as.AuthURL(c.Query("state"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}
	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		slog.Info("linkedin authorization denied",
			slog.String("error", reason),
			slog.String("description", c.Query("error_description")))
		return c.Redirect(fmt.Sprintf("%s/dashboard/accounts?error=%s", h.cfg.FrontendURL, reason), fiber.StatusTemporaryRedirect)
	}

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing authorization code",
		})
	}

	if _, err := h.as.Callback(c.Context(), code, c.Query("state")); err != nil {
		slog.Info(err.Error())
		return c.Status(ErrorStatus(err)).JSON(fiber.Map{
			"error": "Unable to connect LinkedIn account",
		})
	}

	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.cfg.FrontendURL)
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) LinkedInStatus(c *fiber.Ctx) error {
	status, err := h.as.Status(c.Context(), GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *PlatformHandler) DisconnectLinkedIn(c *fiber.Ctx) error {
	if err := h.as.Disconnect(c.Context(), GetUserID(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
