package websocket

import (
	"encoding/json"
	"time"
)

// Wire-level event names. Outbound/inbound is from the client's point of
// view; ConnectionStateChanged is synthesized client-side and never crosses
// the wire.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"

	EventMessageReceived = "message-received"
	EventTypingStarted   = "typing-started"
	EventTypingStopped   = "typing-stopped"
	EventChatDeactivated = "chat-deactivated"
	EventError           = "error"

	EventConnectionStateChanged = "connection-state-changed"
)

// Event is the envelope for everything crossing the socket.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent marshals payload into an envelope. Marshal failures are a
// programming error on our own payload types, so the data is dropped and
// the envelope still delivered.
func NewEvent(eventType string, payload interface{}) Event {
	data, _ := json.Marshal(payload)
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type JoinRoomData struct {
	ChatID    string `json:"chat_id"`
	ProductID string `json:"product_id"`
}

type LeaveRoomData struct {
	ChatID string `json:"chat_id"`
}

type SendMessageData struct {
	ChatID    string `json:"chat_id"`
	ProductID string `json:"product_id"`
	Body      string `json:"body"`
	Kind      string `json:"kind"`
	Nonce     string `json:"nonce,omitempty"`
}

type TypingData struct {
	ChatID    string `json:"chat_id"`
	ProductID string `json:"product_id"`
}

type TypingEventData struct {
	ActorID string `json:"actor_id"`
	ChatID  string `json:"chat_id"`
}

type ChatDeactivatedData struct {
	ChatID string `json:"chat_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
