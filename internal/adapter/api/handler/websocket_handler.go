package handler

import (
	"net/http"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"marketchat/internal/infrastructure/firebase"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
)

type WebSocketHandler struct {
	hub        *ws.Hub
	authClient *firebase.AuthClient
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Restrict in production deployments
	},
}

func NewWebSocketHandler(hub *ws.Hub, authClient *firebase.AuthClient) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		authClient: authClient,
	}
}

// HandleWebSocket is the transport handshake: the token rides the query
// string because browsers cannot set headers on websocket upgrades. Auth
// failure rejects the attempt before the upgrade.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return errors.Unauthorized("Authentication required", nil)
	}

	userID, err := h.authClient.VerifyToken(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := &ws.Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
	}

	h.hub.Register(client)

	go client.ReadPump(h.hub)
	go client.WritePump()

	return nil
}
