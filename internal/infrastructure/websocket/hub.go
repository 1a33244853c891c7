package websocket

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"marketchat/pkg/logger"
)

// Client is one live connection. A user opening two tabs gets two clients,
// each with its own connection id and room memberships.
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
}

// EventFunc routes an inbound client event to the application layer.
type EventFunc func(client *Client, evt Event)

// Hub owns the connection and room registries. The two maps are the only
// shared mutable state on the server side; every mutation happens under mu,
// so a broadcast sees either the pre- or post-mutation membership set.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connection id -> client
	rooms   map[string]map[string]*Client // room id -> connection id -> client
	handler EventFunc
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// SetEventHandler wires the inbound event router. Must be called before any
// client connects.
func (h *Hub) SetEventHandler(fn EventFunc) {
	h.handler = fn
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	logger.Info("Client registered: conn=%s user=%s", client.ID, client.UserID)
}

// Unregister removes the client and all of its room memberships in one lock
// acquisition, so no broadcast can observe a half-cleaned connection.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		for roomID, members := range h.rooms {
			if _, member := members[client.ID]; member {
				delete(members, client.ID)
				if len(members) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		close(client.Send)
	}
	h.mu.Unlock()
	logger.Info("Client unregistered: conn=%s user=%s", client.ID, client.UserID)
}

// Join adds a connection to a room. Idempotent; joining an unknown
// connection is a no-op because join/leave races are expected during rapid
// navigation.
func (h *Hub) Join(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[connID] = client
}

// Leave removes a connection from a room. No-op for unknown rooms or
// connections.
func (h *Hub) Leave(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast fans an event out to every member of the room except
// excludeConnID. Delivery is best-effort: a member whose send buffer is
// saturated misses the event and recovers it on the next full chat reload.
func (h *Hub) Broadcast(roomID string, evt Event, excludeConnID string) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Failed to marshal broadcast event %s: %v", evt.Type, err)
		return
	}

	// Sends happen under the read lock: Unregister closes Send under the
	// write lock, so no send here can race that close. The sends are
	// non-blocking, so nothing slow runs while the lock is held.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, client := range h.rooms[roomID] {
		if connID == excludeConnID {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			logger.Warn("Dropping %s for saturated conn=%s room=%s", evt.Type, client.ID, roomID)
		}
	}
}

// EvictRoom broadcasts evt to every member and then force-leaves them all.
// Used when moderation deactivates a chat mid-conversation.
func (h *Hub) EvictRoom(roomID string, evt Event) {
	h.Broadcast(roomID, evt, "")

	h.mu.Lock()
	delete(h.rooms, roomID)
	h.mu.Unlock()
}

// RoomSize reports current membership, for diagnostics.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// InRoom reports whether a connection is currently a member of a room.
func (h *Hub) InRoom(connID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[roomID][connID]
	return ok
}

// SendToClient queues an event for one connection, best-effort. A client
// that already disconnected is skipped; its Send channel is closed.
func (h *Hub) SendToClient(client *Client, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Error("Failed to marshal event %s: %v", evt.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.clients[client.ID] != client {
		return
	}

	select {
	case client.Send <- payload:
	default:
		logger.Warn("Dropping %s for saturated conn=%s", evt.Type, client.ID)
	}
}

func (h *Hub) SendError(client *Client, code, message string) {
	h.SendToClient(client, NewEvent(EventError, ErrorData{Code: code, Message: message}))
}

// ReadPump reads events off the socket and hands them to the hub's event
// router. Runs as one goroutine per connection; exit unregisters the client.
func (c *Client) ReadPump(h *Hub) {
	defer func() {
		h.Unregister(c)
		c.Conn.Close()
	}()

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("Read error on conn=%s: %v", c.ID, err)
			}
			break
		}

		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			h.SendError(c, "BAD_REQUEST", "Invalid event format")
			continue
		}

		if h.handler != nil {
			h.handler(c, evt)
		}
	}
}

// WritePump drains the send queue onto the socket.
func (c *Client) WritePump() {
	defer c.Conn.Close()

	for {
		payload, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Warn("Write error on conn=%s: %v", c.ID, err)
			return
		}
	}
}
