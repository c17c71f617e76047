package server

import (
	"mazl/internal/featureflags"
	"mazl/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// TypingRequest is the body of POST /api/conversations/:id/typing.
type TypingRequest struct {
	IsTyping bool `json:"is_typing"`
}

// GetConversations handles GET /api/conversations
// @Summary List conversations
// @Description The caller's inbox, most recently active first, with unread counts.
// @Tags conversations
// @Produce json
// @Success 200 {array} models.ConversationSummary
// @Security BearerAuth
// @Router /conversations [get]
func (s *Server) GetConversations(c *fiber.Ctx) error {
	convs, err := s.chatService.ListConversations(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondServiceError(c, err)
	}
	return c.JSON(convs)
}

// GetMessages handles GET /api/conversations/:id/messages
// @Summary List messages
// @Description One page of history, oldest to newest. offset counts back from the newest message.
// @Tags conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Param limit query int false "Page size (default 50, max 100)"
// @Param offset query int false "Messages to skip from the newest"
// @Success 200 {array} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/messages [get]
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	page, err := parsePagination(c)
	if err != nil {
		return nil
	}

	msgs, err := s.chatService.ListMessages(c.UserContext(), convID, currentUserID(c), page.Limit, page.Offset)
	if err != nil {
		return respondServiceError(c, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(msgs)
}

// SendMessage handles POST /api/conversations/:id/messages
// @Summary Send a message
// @Tags conversations
// @Accept json
// @Produce json
// @Param id path int true "Conversation ID"
// @Param request body SendMessageRequest true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	msg, err := s.chatService.AppendMessage(ctx, convID, currentUserID(c), req.Content)
	if err != nil {
		return respondServiceError(c, err)
	}

	s.publishMessageCreated(ctx, msg)
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkConversationRead handles POST /api/conversations/:id/read
// @Summary Mark conversation read
// @Description Marks every message from the other participant as read.
// @Tags conversations
// @Produce json
// @Param id path int true "Conversation ID"
// @Success 200 {object} object{read_count=int}
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/read [post]
func (s *Server) MarkConversationRead(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	count, readAt, err := s.chatService.MarkRead(ctx, convID, userID)
	if err != nil {
		return respondServiceError(c, err)
	}

	s.publishReadReceipt(ctx, convID, userID, count, readAt)
	return c.JSON(fiber.Map{"read_count": count})
}

// SendTyping handles POST /api/conversations/:id/typing
// @Summary Typing indicator
// @Tags conversations
// @Accept json
// @Param id path int true "Conversation ID"
// @Param request body TypingRequest true "Typing state"
// @Success 204
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /conversations/{id}/typing [post]
func (s *Server) SendTyping(c *fiber.Ctx) error {
	userID := currentUserID(c)
	convID, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req TypingRequest
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	if !s.featureFlags.Enabled(featureflags.TypingEvents, userID) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := s.publishTyping(c.UserContext(), convID, userID, req.IsTyping); err != nil {
		return respondServiceError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
