package usecase

import (
	"context"
	"encoding/json"
	goerrors "errors"

	ws "marketchat/internal/infrastructure/websocket"
	apperrors "marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// HandleSocketEvent routes inbound client events into the relay. Installed
// on the hub at startup; runs on the connection's read goroutine.
func (uc *ChatUseCase) HandleSocketEvent(client *ws.Client, evt ws.Event) {
	ctx := context.Background()

	switch evt.Type {
	case ws.EventJoinRoom:
		uc.handleJoinRoom(ctx, client, evt.Data)

	case ws.EventLeaveRoom:
		uc.handleLeaveRoom(ctx, client, evt.Data)

	case ws.EventSendMessage:
		uc.handleSendMessage(ctx, client, evt.Data)

	case ws.EventTypingStart:
		uc.handleTyping(ctx, client, evt.Data, true)

	case ws.EventTypingStop:
		uc.handleTyping(ctx, client, evt.Data, false)

	default:
		logger.Debug("Unknown event type %q from conn=%s", evt.Type, client.ID)
		uc.hub.SendError(client, "BAD_REQUEST", "Unknown event type")
	}
}

// handleJoinRoom authorizes the join before touching the registry: only the
// chat's buyer or seller may enter the product room through this chat.
func (uc *ChatUseCase) handleJoinRoom(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var payload ws.JoinRoomData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		uc.hub.SendError(client, "BAD_REQUEST", "Invalid join-room payload")
		return
	}

	chat, err := uc.chatRepo.GetByID(ctx, payload.ChatID)
	if err != nil {
		uc.sendAppError(client, err)
		return
	}

	if !chat.HasParticipant(client.UserID) {
		logger.Warn("Rejected join by non-participant %s on chat %s", client.UserID, payload.ChatID)
		uc.hub.SendError(client, "FORBIDDEN", "User is not a participant in this chat")
		return
	}

	if !chat.Active {
		uc.hub.SendError(client, "VALIDATION_ERROR", "Chat is no longer active")
		return
	}

	uc.hub.Join(client.ID, chat.RoomID())
}

func (uc *ChatUseCase) handleLeaveRoom(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var payload ws.LeaveRoomData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		return
	}

	// Leave on an unknown chat is a no-op, matching registry semantics.
	chat, err := uc.chatRepo.GetByID(ctx, payload.ChatID)
	if err != nil {
		return
	}

	uc.hub.Leave(client.ID, chat.RoomID())
}

func (uc *ChatUseCase) handleSendMessage(ctx context.Context, client *ws.Client, data json.RawMessage) {
	var payload ws.SendMessageData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		uc.hub.SendError(client, "BAD_REQUEST", "Invalid send-message payload")
		return
	}

	resp, err := uc.SendMessage(ctx, client.UserID, SendMessageInput{
		ChatID:        payload.ChatID,
		Body:          payload.Body,
		Kind:          payload.Kind,
		Nonce:         payload.Nonce,
		ExcludeConnID: client.ID,
	})
	if err != nil {
		uc.sendAppError(client, err)
		return
	}

	// The room fan-out excluded the sender; ack the canonical message back
	// on the sender's own connection so it learns the server-assigned id
	// and timestamp. The session dedupes by nonce/id, so this can never
	// double a transcript entry.
	uc.hub.SendToClient(client, ws.NewEvent(ws.EventMessageReceived, resp.Message))
}

func (uc *ChatUseCase) handleTyping(ctx context.Context, client *ws.Client, data json.RawMessage, started bool) {
	var payload ws.TypingData
	if err := json.Unmarshal(data, &payload); err != nil || payload.ChatID == "" {
		return
	}

	uc.HandleTyping(ctx, client.UserID, payload.ChatID, client.ID, started)
}

func (uc *ChatUseCase) sendAppError(client *ws.Client, err error) {
	var appErr *apperrors.AppError
	if goerrors.As(err, &appErr) {
		uc.hub.SendError(client, appErr.Code, appErr.Message)
		return
	}
	uc.hub.SendError(client, "INTERNAL_ERROR", "An unexpected error occurred")
}
