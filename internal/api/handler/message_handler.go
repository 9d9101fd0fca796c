package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sirpyerre/duochat/internal/core/domain"
	"github.com/sirpyerre/duochat/internal/core/ports"
)

type MessageHandler struct {
	service ports.MessageService
}

func NewMessageHandler(service ports.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

// ListPartners handles GET /api/message/users.
//
// @Summary      Conversation partners
// @Description  Every other user, plus the number of unseen messages each has sent to the caller.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  partnersResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /api/message/users [get]
func (h *MessageHandler) ListPartners(c echo.Context) error {
	caller, err := identity(c)
	if err != nil {
		return err
	}

	list, err := h.service.ListPartners(c.Request().Context(), caller)
	if err != nil {
		return err
	}

	users := list.Users
	if users == nil {
		users = []*domain.User{}
	}
	unseen := list.Unseen
	if unseen == nil {
		unseen = map[int64]int64{}
	}
	return c.JSON(http.StatusOK, partnersResponse{Success: true, Users: users, UnseenMessages: unseen})
}

// Conversation handles GET /api/message/:id.
//
// @Summary      Conversation history
// @Description  All messages between the caller and the given user, oldest first.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Other user id"
// @Success      200  {object}  conversationResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /api/message/{id} [get]
func (h *MessageHandler) Conversation(c echo.Context) error {
	caller, err := identity(c)
	if err != nil {
		return err
	}
	otherID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	msgs, err := h.service.Conversation(c.Request().Context(), caller, otherID)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	return c.JSON(http.StatusOK, conversationResponse{Success: true, Messages: msgs})
}

// Send handles PUT /api/message/send/:id.
//
// @Summary      Send a message
// @Description  Persists the message, then pushes it to the recipient if they are connected.
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      int                 true  "Recipient user id"
// @Param        body  body      sendMessageRequest  true  "Text and/or image reference"
// @Success      200   {object}  sendMessageResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /api/message/send/{id} [put]
func (h *MessageHandler) Send(c echo.Context) error {
	caller, err := identity(c)
	if err != nil {
		return err
	}
	recipientID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return domain.ValidationError("invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	msg, err := h.service.Send(c.Request().Context(), caller, ports.SendMessageInput{
		RecipientID: recipientID,
		Text:        req.Text,
		Image:       req.Image,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sendMessageResponse{Success: true, Message: msg})
}

// MarkSeen handles PATCH /api/message/mark/:id.
//
// @Summary      Mark a message as seen
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      int  true  "Message id"
// @Success      200  {object}  statusResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /api/message/mark/{id} [patch]
func (h *MessageHandler) MarkSeen(c echo.Context) error {
	caller, err := identity(c)
	if err != nil {
		return err
	}
	messageID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.service.MarkSeen(c.Request().Context(), caller, messageID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Success: true})
}
