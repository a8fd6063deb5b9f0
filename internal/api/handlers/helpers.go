package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/models"
)

func GetUserID(c *fiber.Ctx) int64 {
	s, _ := c.Locals("user_id").(string)
	userID, _ := strconv.ParseInt(s, 10, 64)
	return userID
}

// errorResponse maps service errors onto HTTP statuses. Validation messages
// go back to the client verbatim, anything unexpected is logged and hidden.
func errorResponse(c *fiber.Ctx, err error, fallback string) error {
	status := fiber.StatusInternalServerError
	msg := fallback
	switch {
	case errors.Is(err, models.ErrValidation):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		status, msg = fiber.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrDuplicate):
		status, msg = fiber.StatusConflict, err.Error()
	default:
		slog.Error(fallback, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
