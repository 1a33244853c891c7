package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"marketchat/internal/usecase"
	"marketchat/pkg/response"
)

type AdminHandler struct {
	chatUseCase *usecase.ChatUseCase
}

func NewAdminHandler(chatUseCase *usecase.ChatUseCase) *AdminHandler {
	return &AdminHandler{
		chatUseCase: chatUseCase,
	}
}

// DeactivateChat is the moderation "delete": the chat stops accepting
// sends and its room is evicted, but history stays retrievable for audit.
func (h *AdminHandler) DeactivateChat(c echo.Context) error {
	chatID := c.Param("id")

	if err := h.chatUseCase.DeactivateChat(c.Request().Context(), chatID); err != nil {
		return response.Error(c, err)
	}

	return c.NoContent(http.StatusOK)
}

// GetChatMessages returns a chat's history regardless of active state.
func (h *AdminHandler) GetChatMessages(c echo.Context) error {
	chatID := c.Param("id")
	limit, offset := paginationParams(c, 50)

	messages, total, err := h.chatUseCase.GetChatMessagesForAudit(c.Request().Context(), chatID, limit, offset)
	if err != nil {
		return response.Error(c, err)
	}

	return response.SuccessPaginated(c, messages, total, limit, offset)
}
