package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/logger"
)

// Session lifecycle states.
const (
	SessionLoading = "loading"
	SessionReady   = "ready"
	SessionSending = "sending"
	SessionError   = "error"
	SessionClosed  = "closed"
)

// DefaultTypingWindow is the inactivity window after which a typing signal
// self-cancels on both ends.
const DefaultTypingWindow = 2 * time.Second

var ErrSessionClosed = errors.New("chatclient: session closed")

// Transport is the slice of Conn the session depends on; tests substitute
// a fake.
type Transport interface {
	Emit(eventType string, payload interface{}) error
	On(eventType string, h Handler) func()
	JoinRoom(chatID, productID string) error
	LeaveRoom(chatID string) error
	State() string
}

// Session owns the live transcript of one chat: it joins the product room,
// merges messages arriving over either path, tracks the peer's typing
// indicator, and issues read receipts while foregrounded.
type Session struct {
	chatID    string
	productID string
	userID    string
	transport Transport
	api       API
	window    time.Duration

	mu         sync.Mutex
	state      string
	transcript []*entity.Message
	seen       map[string]bool
	draft      string
	foreground bool
	unsubs     []func()

	peer  *indicator
	typer *typingMonitor
}

// SessionOption tweaks session construction.
type SessionOption func(*Session)

// WithTypingWindow overrides the typing inactivity window.
func WithTypingWindow(window time.Duration) SessionOption {
	return func(s *Session) {
		s.window = window
	}
}

func NewSession(chatID, productID, userID string, transport Transport, api API, opts ...SessionOption) *Session {
	s := &Session{
		chatID:    chatID,
		productID: productID,
		userID:    userID,
		transport: transport,
		api:       api,
		window:    DefaultTypingWindow,
		state:     SessionLoading,
		seen:      make(map[string]bool),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.peer = newIndicator(s.window)
	s.typer = newTypingMonitor(s.window, s.signalTyping)

	return s
}

// Open loads the transcript snapshot and joins the room. On failure the
// session stays in the error state; calling Open again retries.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.state = SessionLoading
	s.mu.Unlock()

	snapshot, err := s.api.ListMessages(ctx, s.chatID)
	if err != nil {
		s.mu.Lock()
		s.state = SessionError
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	for _, msg := range snapshot {
		s.mergeLocked(msg)
	}
	if len(s.unsubs) == 0 {
		s.unsubs = []func(){
			s.transport.On(ws.EventMessageReceived, s.onMessage),
			s.transport.On(ws.EventTypingStarted, s.onTypingStarted),
			s.transport.On(ws.EventTypingStopped, s.onTypingStopped),
			s.transport.On(ws.EventChatDeactivated, s.onDeactivated),
		}
	}
	s.foreground = true
	s.state = SessionReady
	latest := s.latestLocked()
	s.mu.Unlock()

	if err := s.transport.JoinRoom(s.chatID, s.productID); err != nil {
		logger.Warn("Join for chat %s failed, relying on reconnect: %v", s.chatID, err)
	}

	s.markRead(latest)

	return nil
}

// Close detaches every subscription and leaves the room. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return
	}
	s.state = SessionClosed
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.typer.Stop()
	s.peer.Hide()

	if err := s.transport.LeaveRoom(s.chatID); err != nil {
		logger.Warn("Leave for chat %s failed: %v", s.chatID, err)
	}
}

// Send relays a plain text message.
func (s *Session) Send(ctx context.Context, body string) error {
	return s.send(ctx, body, entity.MessageKindText)
}

// SendOffer relays a structured price offer. The relay re-validates the
// amount; this only routes the kind.
func (s *Session) SendOffer(ctx context.Context, body string) error {
	return s.send(ctx, body, entity.MessageKindOffer)
}

func (s *Session) send(ctx context.Context, body, kind string) error {
	s.mu.Lock()
	if s.state == SessionClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		s.mu.Unlock()
		return errors.New("chatclient: message body must not be empty")
	}

	nonce := uuid.New().String()

	// Optimistic local echo; the canonical message replaces it by nonce.
	optimistic := &entity.Message{
		ChatID:    s.chatID,
		SenderID:  s.userID,
		Body:      trimmed,
		Kind:      kind,
		Nonce:     nonce,
		CreatedAt: time.Now(),
	}
	s.transcript = append(s.transcript, optimistic)
	s.draft = ""
	s.state = SessionSending
	s.mu.Unlock()

	s.typer.Stop()

	err := s.emitOrFallback(ctx, trimmed, kind, nonce)

	s.mu.Lock()
	if s.state == SessionSending {
		s.state = SessionReady
	}
	if err != nil {
		// Drop the optimistic echo and restore the draft so nothing the
		// user typed is lost.
		s.removeByNonceLocked(nonce)
		s.draft = body
	}
	s.mu.Unlock()

	return err
}

func (s *Session) emitOrFallback(ctx context.Context, body, kind, nonce string) error {
	if s.transport.State() == StateConnected {
		err := s.transport.Emit(ws.EventSendMessage, ws.SendMessageData{
			ChatID:    s.chatID,
			ProductID: s.productID,
			Body:      body,
			Kind:      kind,
			Nonce:     nonce,
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransportUnavailable) {
			return err
		}
	}

	// Fallback: the response is the only way to learn the canonical
	// message, since the room fan-out excludes the sender.
	message, err := s.api.SendMessage(ctx, s.chatID, body, kind, nonce)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.mergeLocked(message)
	s.mu.Unlock()

	return nil
}

// UpdateDraft tracks compose-box contents and drives the typing state
// machine: clearing the input fires stop immediately, bypassing the timer.
func (s *Session) UpdateDraft(text string) {
	s.mu.Lock()
	s.draft = text
	closed := s.state == SessionClosed
	s.mu.Unlock()

	if closed {
		return
	}

	if strings.TrimSpace(text) == "" {
		s.typer.Stop()
	} else {
		s.typer.Keystroke()
	}
}

// Draft returns the compose-box contents, including text restored after a
// failed send.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Foreground marks the chat visible and acknowledges everything received
// while it was backgrounded.
func (s *Session) Foreground() {
	s.mu.Lock()
	s.foreground = true
	latest := s.latestLocked()
	s.mu.Unlock()

	s.markRead(latest)
}

// Background stops read receipts; messages arriving now stay unread until
// the user actually looks at the chat again.
func (s *Session) Background() {
	s.mu.Lock()
	s.foreground = false
	s.mu.Unlock()
}

// Messages returns the transcript ordered by (server timestamp, id).
func (s *Session) Messages() []*entity.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entity.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// PeerTyping reports whether the peer's typing indicator is visible.
func (s *Session) PeerTyping() bool {
	return s.peer.Visible()
}

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) onMessage(evt ws.Event) {
	var msg entity.Message
	if err := json.Unmarshal(evt.Data, &msg); err != nil || msg.ChatID != s.chatID {
		return
	}

	s.mu.Lock()
	merged := s.mergeLocked(&msg)
	foreground := s.foreground
	s.mu.Unlock()

	if msg.SenderID != s.userID {
		// A delivered message ends the peer's typing run even if the
		// stop signal races behind it.
		s.peer.Hide()

		if merged && foreground {
			s.markRead(msg.CreatedAt)
		}
	}
}

func (s *Session) onTypingStarted(evt ws.Event) {
	var data ws.TypingEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return
	}
	if data.ChatID != s.chatID || data.ActorID == s.userID {
		return
	}
	s.peer.Show()
}

func (s *Session) onTypingStopped(evt ws.Event) {
	var data ws.TypingEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return
	}
	if data.ChatID != s.chatID || data.ActorID == s.userID {
		return
	}
	s.peer.Hide()
}

func (s *Session) onDeactivated(evt ws.Event) {
	var data ws.ChatDeactivatedData
	if err := json.Unmarshal(evt.Data, &data); err != nil || data.ChatID != s.chatID {
		return
	}

	s.Close()
}

func (s *Session) signalTyping(started bool) {
	eventType := ws.EventTypingStart
	if !started {
		eventType = ws.EventTypingStop
	}

	// Typing has no HTTP equivalent; while disconnected it is simply not
	// sent.
	err := s.transport.Emit(eventType, ws.TypingData{ChatID: s.chatID, ProductID: s.productID})
	if err != nil && !errors.Is(err, ErrTransportUnavailable) {
		logger.Debug("Typing signal failed for chat %s: %v", s.chatID, err)
	}
}

func (s *Session) markRead(upTo time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.api.MarkRead(ctx, s.chatID, upTo); err != nil {
			logger.Warn("Read receipt for chat %s failed: %v", s.chatID, err)
		}
	}()
}

// mergeLocked inserts a canonical message, replacing its optimistic echo
// when the nonce matches and dropping exact duplicates by id. Returns true
// when the transcript gained a message it had not seen.
func (s *Session) mergeLocked(msg *entity.Message) bool {
	if msg.ID != "" && s.seen[msg.ID] {
		return false
	}

	if msg.Nonce != "" {
		for i, existing := range s.transcript {
			if existing.ID == "" && existing.Nonce == msg.Nonce {
				s.transcript[i] = msg
				s.seen[msg.ID] = true
				s.sortLocked()
				return true
			}
		}
	}

	s.transcript = append(s.transcript, msg)
	if msg.ID != "" {
		s.seen[msg.ID] = true
	}
	s.sortLocked()
	return true
}

func (s *Session) removeByNonceLocked(nonce string) {
	for i, msg := range s.transcript {
		if msg.ID == "" && msg.Nonce == nonce {
			s.transcript = append(s.transcript[:i], s.transcript[i+1:]...)
			return
		}
	}
}

func (s *Session) sortLocked() {
	sort.SliceStable(s.transcript, func(i, j int) bool {
		if s.transcript[i].CreatedAt.Equal(s.transcript[j].CreatedAt) {
			return s.transcript[i].ID < s.transcript[j].ID
		}
		return s.transcript[i].CreatedAt.Before(s.transcript[j].CreatedAt)
	})
}

func (s *Session) latestLocked() time.Time {
	if len(s.transcript) == 0 {
		return time.Now()
	}
	return s.transcript[len(s.transcript)-1].CreatedAt
}
