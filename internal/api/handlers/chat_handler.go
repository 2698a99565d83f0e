package handlers

import (
	"errors"

	"expense-intake/internal/conversation"
	"expense-intake/internal/dto"
	"expense-intake/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChatHandler struct {
	chatService *service.ChatService
	logger      *zap.Logger
}

func NewChatHandler(chatService *service.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// Start godoc
// @Summary Start a chat session
// @Tags chat
// @Produce json
// @Security Bearer
// @Success 201 {object} dto.ChatSessionResponse
// @Router /api/v1/chat/sessions [post]
func (h *ChatHandler) Start(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(h.chatService.Start(userID))
}

// Get godoc
// @Summary Get a chat session
// @Tags chat
// @Produce json
// @Param id path string true "Session ID"
// @Security Bearer
// @Success 200 {object} dto.ChatSessionResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/chat/sessions/{id} [get]
func (h *ChatHandler) Get(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid session ID",
		})
	}

	resp, err := h.chatService.Get(userID, sessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

// Send godoc
// @Summary Send a chat message
// @Description Processes one message. When the user confirms, the expense is saved and returned with the turn.
// @Tags chat
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body dto.ChatMessageRequest true "Message"
// @Security Bearer
// @Success 200 {object} dto.ChatTurnResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/chat/sessions/{id}/messages [post]
func (h *ChatHandler) Send(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	sessionID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid session ID",
		})
	}

	var req dto.ChatMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.chatService.Send(c.UserContext(), userID, sessionID, req.Message)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *ChatHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, conversation.ErrConversationComplete):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, service.ErrInvalidExpense):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	h.logger.Error("Chat turn failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Chat turn failed",
	})
}
