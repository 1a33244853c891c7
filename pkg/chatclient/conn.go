package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/logger"
)

// Connection states published via the connection-state-changed event.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateClosed       = "closed"
)

var (
	// ErrAuthFailed means the handshake was rejected; retrying with the
	// same credentials will not help.
	ErrAuthFailed = errors.New("chatclient: authentication failed")
	// ErrTransportUnavailable means the socket is down; callers fall back
	// to the HTTP path.
	ErrTransportUnavailable = errors.New("chatclient: transport unavailable")
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler receives one inbound event. Handlers run on the connection's
// read goroutine and must not block.
type Handler func(evt ws.Event)

// Conn is the persistent bidirectional transport: one per authenticated
// session, shared by every open chat session, torn down on logout.
type Conn struct {
	url    string
	token  string
	dialer *gorillaws.Dialer

	mu      sync.Mutex
	conn    *gorillaws.Conn
	state   string
	rooms   map[string]ws.JoinRoomData // joined rooms, re-issued after reconnect
	subs    map[string]map[int]Handler
	nextSub int
	closed  bool
	backoff time.Duration // first reconnect delay, doubled up to maxBackoff
}

// Dial performs the authentication handshake and starts the read loop.
// A rejected handshake returns ErrAuthFailed immediately; reconnects after
// a successful initial connect are automatic.
func Dial(ctx context.Context, url, token string) (*Conn, error) {
	c := &Conn{
		url:     url,
		token:   token,
		dialer:  gorillaws.DefaultDialer,
		state:   StateDisconnected,
		rooms:   make(map[string]ws.JoinRoomData),
		subs:    make(map[string]map[int]Handler),
		backoff: initialBackoff,
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}

	c.conn = conn
	c.state = StateConnected

	go c.readLoop()

	return c, nil
}

func (c *Conn) dialURL() string {
	return c.url + "?token=" + c.token
}

// State returns the current connection state.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a handler for an event name and returns its unsubscribe
// function. Registration never replaces earlier handlers, so a chat list
// preview and a full chat view can both listen without clobbering.
func (c *Conn) On(eventType string, h Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers, ok := c.subs[eventType]
	if !ok {
		handlers = make(map[int]Handler)
		c.subs[eventType] = handlers
	}

	id := c.nextSub
	c.nextSub++
	handlers[id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[eventType], id)
	}
}

// Emit sends an event over the live socket. While disconnected it returns
// ErrTransportUnavailable so the caller can take the HTTP fallback path.
func (c *Conn) Emit(eventType string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return ErrTransportUnavailable
	}

	return c.conn.WriteJSON(ws.NewEvent(eventType, payload))
}

// JoinRoom records the membership and issues the join. The record survives
// disconnects: the server forgets memberships on a full disconnect, so the
// client re-issues every join after reconnecting.
func (c *Conn) JoinRoom(chatID, productID string) error {
	data := ws.JoinRoomData{ChatID: chatID, ProductID: productID}

	c.mu.Lock()
	c.rooms[chatID] = data
	c.mu.Unlock()

	err := c.Emit(ws.EventJoinRoom, data)
	if errors.Is(err, ErrTransportUnavailable) {
		// Joined-on-paper; the reconnect path will issue it.
		return nil
	}
	return err
}

func (c *Conn) LeaveRoom(chatID string) error {
	c.mu.Lock()
	delete(c.rooms, chatID)
	c.mu.Unlock()

	err := c.Emit(ws.EventLeaveRoom, ws.LeaveRoomData{ChatID: chatID})
	if errors.Is(err, ErrTransportUnavailable) {
		return nil
	}
	return err
}

// Close tears the connection down for good; no reconnect follows.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.dispatchState(StateClosed)

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()

		if closed || conn == nil {
			return
		}

		var evt ws.Event
		if err := conn.ReadJSON(&evt); err != nil {
			c.mu.Lock()
			closed := c.closed
			if !closed {
				c.state = StateDisconnected
				c.conn = nil
			}
			c.mu.Unlock()

			if closed {
				return
			}

			logger.Warn("Transport read failed, reconnecting: %v", err)
			c.dispatchState(StateDisconnected)

			if !c.reconnect() {
				return
			}
			continue
		}

		c.dispatch(evt)
	}
}

// reconnect retries with doubling backoff capped at maxBackoff, so a fleet
// of clients losing the server cannot thunder back in lockstep forever.
// Returns false once the connection has been closed for good.
func (c *Conn) reconnect() bool {
	c.mu.Lock()
	backoff := c.backoff
	c.mu.Unlock()

	for {
		time.Sleep(backoff)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()

		conn, _, err := c.dialer.Dial(c.dialURL(), nil)
		if err != nil {
			backoff = nextBackoff(backoff)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		rooms := make([]ws.JoinRoomData, 0, len(c.rooms))
		for _, data := range c.rooms {
			rooms = append(rooms, data)
		}
		c.mu.Unlock()

		c.dispatchState(StateConnected)

		// The server forgot all memberships on disconnect.
		for _, data := range rooms {
			if err := c.Emit(ws.EventJoinRoom, data); err != nil {
				logger.Warn("Failed to rejoin room for chat %s: %v", data.ChatID, err)
			}
		}

		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func (c *Conn) dispatch(evt ws.Event) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[evt.Type]))
	for _, h := range c.subs[evt.Type] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

func (c *Conn) dispatchState(state string) {
	payload, _ := json.Marshal(map[string]string{"state": state})
	c.dispatch(ws.Event{
		Type:      ws.EventConnectionStateChanged,
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
