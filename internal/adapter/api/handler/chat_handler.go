package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/errors"
	"marketchat/pkg/response"
)

type ChatHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewChatHandler(chatUseCase *usecase.ChatUseCase) *ChatHandler {
	return &ChatHandler{
		chatUseCase: chatUseCase,
	}
}

type createChatRequest struct {
	ProductID      string `json:"product_id" validate:"required"`
	InitialMessage string `json:"initial_message"`
}

// sendMessageRequest is the HTTP fallback equivalent of the socket's
// send-message event; same fields, same pipeline.
type sendMessageRequest struct {
	Body  string `json:"body" validate:"required"`
	Kind  string `json:"kind" validate:"omitempty,oneof=text offer"`
	Nonce string `json:"nonce"`
}

type markReadRequest struct {
	UpTo string `json:"up_to"` // RFC3339; empty means "up to the latest message"
}

// CreateChat opens (or reuses) the chat between the caller and a product's
// seller.
func (h *ChatHandler) CreateChat(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)

	chat, err := h.chatUseCase.GetOrCreateChat(c.Request().Context(), userID, usecase.CreateChatInput{
		ProductID:      req.ProductID,
		InitialMessage: req.InitialMessage,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, chat)
}

// GetUserChats lists the caller's active chats with unread counters.
func (h *ChatHandler) GetUserChats(c echo.Context) error {
	userID := c.Get("uid").(string)
	limit, offset := paginationParams(c, 20)

	chats, total, err := h.chatUseCase.GetUserChats(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, chats, total, limit, offset)
}

// SendMessage is the HTTP fallback entry point, used while the live
// transport is disconnected. The caller gets the canonical persisted
// message back; nothing is echoed to the caller over the room.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	chatID := c.Param("id")
	userID := c.Get("uid").(string)

	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.chatUseCase.SendMessage(c.Request().Context(), userID, usecase.SendMessageInput{
		ChatID: chatID,
		Body:   req.Body,
		Kind:   req.Kind,
		Nonce:  req.Nonce,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}

// GetChatMessages returns the transcript snapshot, ascending by server
// timestamp. Used by the session on open.
func (h *ChatHandler) GetChatMessages(c echo.Context) error {
	chatID := c.Param("id")
	userID := c.Get("uid").(string)
	limit, offset := paginationParams(c, 50)

	messages, total, err := h.chatUseCase.GetChatMessages(c.Request().Context(), userID, chatID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, messages, total, limit, offset)
}

// MarkChatAsRead is the HTTP read-receipt entry point.
func (h *ChatHandler) MarkChatAsRead(c echo.Context) error {
	chatID := c.Param("id")
	userID := c.Get("uid").(string)

	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}

	var upTo time.Time
	if req.UpTo != "" {
		parsed, err := time.Parse(time.RFC3339, req.UpTo)
		if err != nil {
			return response.Error(c, errors.Validation("up_to must be an RFC3339 timestamp", err))
		}
		upTo = parsed
	}

	if err := h.chatUseCase.MarkChatAsRead(c.Request().Context(), userID, chatID, upTo); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}

func paginationParams(c echo.Context, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}
