package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PlatformHandler struct {
	ps service.PlatformService
}

func NewPlatformHandler(ps service.PlatformService) *PlatformHandler {
	return &PlatformHandler{ps: ps}
}

func (h *PlatformHandler) ListAccounts(c *fiber.Ctx) error {
	accounts, err := h.ps.List(c.Context(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err, "Unable to list accounts")
	}
	return c.Status(fiber.StatusOK).JSON(accounts)
}

func (h *PlatformHandler) ImportAccount(c *fiber.Ctx) error {
	var in transfer.AccountImport
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	account, err := h.ps.Import(c.Context(), GetUserID(c), &in)
	if err != nil {
		return errorResponse(c, err, "Unable to import account")
	}
	return c.Status(fiber.StatusCreated).JSON(account)
}
