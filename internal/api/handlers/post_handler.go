package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	var pc transfer.PostCreation
	if err := c.BodyParser(&pc); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	post, err := h.s.CreatePost(c.Context(), userID, &pc, form.File["files"])
	if err != nil {
		return errorResponse(c, err, "Unable to create post")
	}

	return c.Status(fiber.StatusCreated).JSON(post)
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	posts, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		return errorResponse(c, err, "Unable to list posts")
	}
	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	postID, _ := c.ParamsInt("id")

	post, err := h.s.PostInfo(c.Context(), int64(postID), GetUserID(c))
	if err != nil {
		return errorResponse(c, err, "Unable to get post")
	}
	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) SchedulePost(c *fiber.Ctx) error {
	postID, _ := c.ParamsInt("id")

	if err := h.s.Schedule(c.Context(), GetUserID(c), int64(postID)); err != nil {
		return errorResponse(c, err, "Unable to schedule post")
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Post scheduled successfully",
	})
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	postID, _ := c.ParamsInt("id")

	if err := h.s.Remove(c.Context(), GetUserID(c), int64(postID)); err != nil {
		return errorResponse(c, err, "Unable to remove post")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
