package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
)

// memChatRepo mirrors the Firestore repository's contract: Create activates
// the chat, CreateMessage assigns the id and timestamp server-side, and
// transcripts come back ascending by timestamp.
type memChatRepo struct {
	mu       sync.Mutex
	chats    map[string]*entity.Chat
	messages map[string][]*entity.Message
	seq      int
	base     time.Time
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{
		chats:    make(map[string]*entity.Chat),
		messages: make(map[string][]*entity.Message),
		base:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (r *memChatRepo) Create(ctx context.Context, chat *entity.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if chat.ID == "" {
		chat.ID = fmt.Sprintf("chat-%03d", r.seq)
	}
	chat.Active = true
	chat.CreatedAt = r.base.Add(time.Duration(r.seq) * time.Millisecond)
	chat.UpdatedAt = chat.CreatedAt

	copied := *chat
	r.chats[chat.ID] = &copied
	return nil
}

func (r *memChatRepo) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[id]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	copied := *chat
	return &copied, nil
}

func (r *memChatRepo) GetByTriple(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, chat := range r.chats {
		if chat.BuyerID == buyerID && chat.SellerID == sellerID && chat.ProductID == productID && chat.Active {
			copied := *chat
			return &copied, nil
		}
	}
	return nil, errors.NotFound("Chat", nil)
}

func (r *memChatRepo) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chats []*entity.Chat
	for _, chat := range r.chats {
		if chat.Active && chat.HasParticipant(userID) {
			copied := *chat
			chats = append(chats, &copied)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
	})
	return chats, int64(len(chats)), nil
}

func (r *memChatRepo) Update(ctx context.Context, chat *entity.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[chat.ID]; !ok {
		return errors.NotFound("Chat", nil)
	}
	copied := *chat
	r.chats[chat.ID] = &copied
	return nil
}

func (r *memChatRepo) CreateMessage(ctx context.Context, message *entity.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if message.ID == "" {
		message.ID = fmt.Sprintf("msg-%03d", r.seq)
	}
	message.CreatedAt = r.base.Add(time.Duration(r.seq) * time.Millisecond)

	copied := *message
	r.messages[message.ChatID] = append(r.messages[message.ChatID], &copied)
	return nil
}

func (r *memChatRepo) GetMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.messages[chatID]
	messages := make([]*entity.Message, 0, len(stored))
	for _, msg := range stored {
		copied := *msg
		messages = append(messages, &copied)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, int64(len(messages)), nil
}

func (r *memChatRepo) GetMessageByNonce(ctx context.Context, chatID, senderID, nonce string) (*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.messages[chatID] {
		if msg.SenderID == senderID && msg.Nonce == nonce {
			copied := *msg
			return &copied, nil
		}
	}
	return nil, errors.NotFound("Message", nil)
}

type memUserRepo struct {
	users map[string]*entity.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	return user, nil
}

type memProductRepo struct {
	products map[string]*entity.Product
}

func (r *memProductRepo) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	product, ok := r.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	return product, nil
}

// memReadStateRepo enforces the same monotonicity the Redis script does.
type memReadStateRepo struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemReadStateRepo() *memReadStateRepo {
	return &memReadStateRepo{marks: make(map[string]time.Time)}
}

func (r *memReadStateRepo) key(chatID, participantID string) string {
	return chatID + ":" + participantID
}

func (r *memReadStateRepo) MarkRead(ctx context.Context, chatID, participantID string, upTo time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.key(chatID, participantID)
	if current, ok := r.marks[key]; ok && !upTo.After(current) {
		return nil
	}
	r.marks[key] = upTo
	return nil
}

func (r *memReadStateRepo) GetLastRead(ctx context.Context, chatID, participantID string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marks[r.key(chatID, participantID)], nil
}

type fixture struct {
	uc        *ChatUseCase
	chatRepo  *memChatRepo
	readState *memReadStateRepo
	hub       *ws.Hub
	chat      *entity.Chat
}

// newFixture seeds a buyer, a seller, their product and one active chat.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	chatRepo := newMemChatRepo()
	userRepo := &memUserRepo{users: map[string]*entity.User{
		"buyer-1":  {ID: "buyer-1", Username: "buyer", Role: "user"},
		"buyer-2":  {ID: "buyer-2", Username: "buyer2", Role: "user"},
		"seller-1": {ID: "seller-1", Username: "seller", Role: "user"},
		"admin-1":  {ID: "admin-1", Username: "admin", Role: "admin"},
	}}
	productRepo := &memProductRepo{products: map[string]*entity.Product{
		"product-1": {ID: "product-1", SellerID: "seller-1", Title: "Road bike", Price: 250, Currency: "AED"},
	}}
	readState := newMemReadStateRepo()
	hub := ws.NewHub()

	uc := NewChatUseCase(chatRepo, userRepo, productRepo, readState, hub)
	hub.SetEventHandler(uc.HandleSocketEvent)

	chat := &entity.Chat{
		ProductID:     "product-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Participants:  []string{"buyer-1", "seller-1"},
		UnreadCount:   make(map[string]int),
		LastMessageAt: chatRepo.base,
	}
	require.NoError(t, chatRepo.Create(context.Background(), chat))

	return &fixture{uc: uc, chatRepo: chatRepo, readState: readState, hub: hub, chat: chat}
}

func (f *fixture) connect(t *testing.T, connID, userID, roomID string) *ws.Client {
	t.Helper()

	client := &ws.Client{ID: connID, UserID: userID, Send: make(chan []byte, 16)}
	f.hub.Register(client)
	if roomID != "" {
		f.hub.Join(connID, roomID)
	}
	return client
}

func receivedEvents(c *ws.Client) []ws.Event {
	var events []ws.Event
	for {
		select {
		case payload := <-c.Send:
			var evt ws.Event
			if err := json.Unmarshal(payload, &evt); err == nil {
				events = append(events, evt)
			}
		default:
			return events
		}
	}
}

func TestSendMessagePersistsAndFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sender := f.connect(t, "conn-buyer", "buyer-1", f.chat.RoomID())
	receiver := f.connect(t, "conn-seller", "seller-1", f.chat.RoomID())

	resp, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{
		ChatID:        f.chat.ID,
		Body:          "  is this still available?  ",
		ExcludeConnID: sender.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.NotEmpty(t, resp.Message.ID)
	assert.False(t, resp.Message.CreatedAt.IsZero())
	assert.Equal(t, "is this still available?", resp.Message.Body)
	assert.Equal(t, entity.MessageKindText, resp.Message.Kind)
	require.NotNil(t, resp.Sender)
	assert.Equal(t, "buyer-1", resp.Sender.ID)

	// The room fan-out reaches the other participant but never echoes to
	// the sender's own connection.
	assert.Empty(t, receivedEvents(sender))
	events := receivedEvents(receiver)
	require.Len(t, events, 1)
	assert.Equal(t, ws.EventMessageReceived, events[0].Type)

	var delivered entity.Message
	require.NoError(t, json.Unmarshal(events[0].Data, &delivered))
	assert.Equal(t, resp.Message.ID, delivered.ID)
	assert.Equal(t, "is this still available?", delivered.Body)

	chat, err := f.chatRepo.GetByID(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "is this still available?", chat.LastMessage)
	assert.Equal(t, resp.Message.CreatedAt, chat.LastMessageAt)
	assert.Equal(t, 1, chat.UnreadCount["seller-1"])
	assert.Equal(t, 0, chat.UnreadCount["buyer-1"])

	// Sending advances the sender's own read mark.
	mark, err := f.readState.GetLastRead(ctx, f.chat.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Message.CreatedAt, mark)
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.SendMessage(context.Background(), "stranger", SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "hello",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestSendMessageRejectsEmptyBody(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{"", "   ", "\n\t"} {
		_, err := f.uc.SendMessage(context.Background(), "buyer-1", SendMessageInput{
			ChatID: f.chat.ID,
			Body:   body,
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, "VALIDATION_ERROR"))
	}

	_, total, err := f.uc.GetChatMessages(context.Background(), "buyer-1", f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSendMessageOfferKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "AED250",
		Kind:   entity.MessageKindOffer,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Message.Offer)
	assert.Equal(t, "AED", resp.Message.Offer.Currency)
	assert.Equal(t, 250.0, resp.Message.Offer.Value)

	// A malformed offer is rejected outright rather than downgraded to text.
	_, err = f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "AED",
		Kind:   entity.MessageKindOffer,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "VALIDATION_ERROR"))

	_, err = f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "whatever",
		Kind:   "sticker",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "VALIDATION_ERROR"))
}

func TestSendMessageRejectsDeactivatedChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.uc.DeactivateChat(ctx, f.chat.ID))

	_, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "anyone there?",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "VALIDATION_ERROR"))
}

func TestSendMessageCollapsesDuplicateNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	input := SendMessageInput{
		ChatID: f.chat.ID,
		Body:   "first and only",
		Nonce:  "nonce-abc",
	}

	first, err := f.uc.SendMessage(ctx, "buyer-1", input)
	require.NoError(t, err)

	// The retry over the fallback path lands on the already persisted
	// message instead of creating a second one.
	second, err := f.uc.SendMessage(ctx, "buyer-1", input)
	require.NoError(t, err)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, first.Message.CreatedAt, second.Message.CreatedAt)

	_, total, err := f.uc.GetChatMessages(ctx, "buyer-1", f.chat.ID, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	chat, err := f.chatRepo.GetByID(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, chat.UnreadCount["seller-1"])
}

func TestMessagesOrderedByServerTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bodies := []string{"one", "two", "three", "four"}
	for i, body := range bodies {
		sender := "buyer-1"
		if i%2 == 1 {
			sender = "seller-1"
		}
		_, err := f.uc.SendMessage(ctx, sender, SendMessageInput{ChatID: f.chat.ID, Body: body})
		require.NoError(t, err)
	}

	messages, total, err := f.uc.GetChatMessages(ctx, "seller-1", f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, len(bodies), total)

	for i, msg := range messages {
		assert.Equal(t, bodies[i], msg.Body)
		if i > 0 {
			assert.True(t, messages[i-1].CreatedAt.Before(msg.CreatedAt))
		}
	}
}

func TestGetChatMessagesRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.uc.GetChatMessages(context.Background(), "stranger", f.chat.ID, 0, 0)

	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestGetOrCreateChatReusesActiveChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.uc.GetOrCreateChat(ctx, "buyer-1", CreateChatInput{ProductID: "product-1"})
	require.NoError(t, err)
	assert.Equal(t, f.chat.ID, first.Chat.ID)
	require.NotNil(t, first.Product)
	assert.Equal(t, "Road bike", first.Product.Title)
	require.NotNil(t, first.OtherUser)
	assert.Equal(t, "seller-1", first.OtherUser.ID)

	second, err := f.uc.GetOrCreateChat(ctx, "buyer-1", CreateChatInput{ProductID: "product-1"})
	require.NoError(t, err)
	assert.Equal(t, first.Chat.ID, second.Chat.ID)
}

func TestGetOrCreateChatCreatesOnFirstContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.uc.DeactivateChat(ctx, f.chat.ID))

	// With the original chat deactivated, first contact opens a fresh one
	// and the initial message lands in it.
	resp, err := f.uc.GetOrCreateChat(ctx, "buyer-1", CreateChatInput{
		ProductID:      "product-1",
		InitialMessage: "still for sale?",
	})
	require.NoError(t, err)
	assert.NotEqual(t, f.chat.ID, resp.Chat.ID)
	assert.True(t, resp.Chat.Active)
	assert.Equal(t, []string{"buyer-1", "seller-1"}, resp.Chat.Participants)
	assert.Equal(t, "still for sale?", resp.Chat.LastMessage)

	messages, _, err := f.uc.GetChatMessages(ctx, "buyer-1", resp.Chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "still for sale?", messages[0].Body)
}

func TestGetOrCreateChatRejectsOwnProduct(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.GetOrCreateChat(context.Background(), "seller-1", CreateChatInput{ProductID: "product-1"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, "BAD_REQUEST"))
}

func TestMarkChatAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{ChatID: f.chat.ID, Body: "ping"})
	require.NoError(t, err)

	// Zero upTo means "everything so far", i.e. the chat's last message.
	require.NoError(t, f.uc.MarkChatAsRead(ctx, "seller-1", f.chat.ID, time.Time{}))

	mark, err := f.readState.GetLastRead(ctx, f.chat.ID, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Message.CreatedAt, mark)

	chat, err := f.chatRepo.GetByID(ctx, f.chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, chat.UnreadCount["seller-1"])
}

func TestMarkChatAsReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	later := time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	require.NoError(t, f.uc.MarkChatAsRead(ctx, "seller-1", f.chat.ID, later))
	// The stale call arrives out of order; the mark must not move backward.
	require.NoError(t, f.uc.MarkChatAsRead(ctx, "seller-1", f.chat.ID, earlier))

	mark, err := f.readState.GetLastRead(ctx, f.chat.ID, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, later, mark)
}

func TestMarkChatAsReadRejectsNonParticipant(t *testing.T) {
	f := newFixture(t)

	err := f.uc.MarkChatAsRead(context.Background(), "stranger", f.chat.ID, time.Now())

	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestHandleTypingBroadcastsToRoomExceptActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	actor := f.connect(t, "conn-buyer", "buyer-1", f.chat.RoomID())
	peer := f.connect(t, "conn-seller", "seller-1", f.chat.RoomID())

	f.uc.HandleTyping(ctx, "buyer-1", f.chat.ID, actor.ID, true)
	f.uc.HandleTyping(ctx, "buyer-1", f.chat.ID, actor.ID, false)

	assert.Empty(t, receivedEvents(actor))

	events := receivedEvents(peer)
	require.Len(t, events, 2)
	assert.Equal(t, ws.EventTypingStarted, events[0].Type)
	assert.Equal(t, ws.EventTypingStopped, events[1].Type)

	var data ws.TypingEventData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, "buyer-1", data.ActorID)
	assert.Equal(t, f.chat.ID, data.ChatID)
}

func TestHandleTypingDropsNonParticipant(t *testing.T) {
	f := newFixture(t)

	peer := f.connect(t, "conn-seller", "seller-1", f.chat.RoomID())

	f.uc.HandleTyping(context.Background(), "stranger", f.chat.ID, "", true)

	assert.Empty(t, receivedEvents(peer))
}

func TestDeactivateChatEvictsRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buyer := f.connect(t, "conn-buyer", "buyer-1", f.chat.RoomID())

	_, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{ChatID: f.chat.ID, Body: "before"})
	require.NoError(t, err)
	receivedEvents(buyer) // discard

	require.NoError(t, f.uc.DeactivateChat(ctx, f.chat.ID))
	// Idempotent on an already deactivated chat.
	require.NoError(t, f.uc.DeactivateChat(ctx, f.chat.ID))

	assert.Equal(t, 0, f.hub.RoomSize(f.chat.RoomID()))

	events := receivedEvents(buyer)
	require.Len(t, events, 1)
	assert.Equal(t, ws.EventChatDeactivated, events[0].Type)

	// History stays readable for participants and for moderation.
	messages, _, err := f.uc.GetChatMessages(ctx, "buyer-1", f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	auditMessages, _, err := f.uc.GetChatMessagesForAudit(ctx, f.chat.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, auditMessages, 1)
}

func TestGetUserChatsOrderedByRecency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := &entity.Chat{
		ProductID:    "product-1",
		BuyerID:      "buyer-2",
		SellerID:     "seller-1",
		Participants: []string{"buyer-2", "seller-1"},
		UnreadCount:  make(map[string]int),
	}
	require.NoError(t, f.chatRepo.Create(ctx, second))

	_, err := f.uc.SendMessage(ctx, "buyer-1", SendMessageInput{ChatID: f.chat.ID, Body: "older"})
	require.NoError(t, err)
	_, err = f.uc.SendMessage(ctx, "seller-1", SendMessageInput{ChatID: second.ID, Body: "newer"})
	require.NoError(t, err)

	chats, total, err := f.uc.GetUserChats(ctx, "seller-1", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, chats, 2)
	assert.Equal(t, second.ID, chats[0].Chat.ID)
	assert.Equal(t, f.chat.ID, chats[1].Chat.ID)
	require.NotNil(t, chats[0].OtherUser)
	assert.Equal(t, "buyer-2", chats[0].Chat.BuyerID)
}

func TestSocketEventJoinRequiresParticipant(t *testing.T) {
	f := newFixture(t)

	stranger := f.connect(t, "conn-x", "stranger", "")

	joinData, _ := json.Marshal(ws.JoinRoomData{ChatID: f.chat.ID, ProductID: f.chat.ProductID})
	f.uc.HandleSocketEvent(stranger, ws.Event{Type: ws.EventJoinRoom, Data: joinData})

	assert.False(t, f.hub.InRoom(stranger.ID, f.chat.RoomID()))

	events := receivedEvents(stranger)
	require.Len(t, events, 1)
	assert.Equal(t, ws.EventError, events[0].Type)

	var data ws.ErrorData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, "FORBIDDEN", data.Code)
}

func TestSocketEventSendMessageAcksSender(t *testing.T) {
	f := newFixture(t)

	buyer := f.connect(t, "conn-buyer", "buyer-1", "")
	seller := f.connect(t, "conn-seller", "seller-1", "")

	joinBuyer, _ := json.Marshal(ws.JoinRoomData{ChatID: f.chat.ID, ProductID: f.chat.ProductID})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventJoinRoom, Data: joinBuyer})
	f.uc.HandleSocketEvent(seller, ws.Event{Type: ws.EventJoinRoom, Data: joinBuyer})
	require.True(t, f.hub.InRoom(buyer.ID, f.chat.RoomID()))
	require.True(t, f.hub.InRoom(seller.ID, f.chat.RoomID()))

	sendData, _ := json.Marshal(ws.SendMessageData{
		ChatID: f.chat.ID,
		Body:   "over the socket",
		Nonce:  "nonce-1",
	})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventSendMessage, Data: sendData})

	// Exactly one copy each: the direct ack for the sender, the room
	// fan-out for the peer.
	buyerEvents := receivedEvents(buyer)
	require.Len(t, buyerEvents, 1)
	assert.Equal(t, ws.EventMessageReceived, buyerEvents[0].Type)

	sellerEvents := receivedEvents(seller)
	require.Len(t, sellerEvents, 1)
	assert.Equal(t, ws.EventMessageReceived, sellerEvents[0].Type)

	var acked, delivered entity.Message
	require.NoError(t, json.Unmarshal(buyerEvents[0].Data, &acked))
	require.NoError(t, json.Unmarshal(sellerEvents[0].Data, &delivered))
	assert.Equal(t, delivered.ID, acked.ID)
	assert.Equal(t, "nonce-1", acked.Nonce)
}

func TestSocketEventSendMessageErrorsBackToSender(t *testing.T) {
	f := newFixture(t)

	buyer := f.connect(t, "conn-buyer", "buyer-1", f.chat.RoomID())

	sendData, _ := json.Marshal(ws.SendMessageData{ChatID: f.chat.ID, Body: "   "})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventSendMessage, Data: sendData})

	events := receivedEvents(buyer)
	require.Len(t, events, 1)
	assert.Equal(t, ws.EventError, events[0].Type)

	var data ws.ErrorData
	require.NoError(t, json.Unmarshal(events[0].Data, &data))
	assert.Equal(t, "VALIDATION_ERROR", data.Code)
}

func TestSocketEventLeaveRoom(t *testing.T) {
	f := newFixture(t)

	buyer := f.connect(t, "conn-buyer", "buyer-1", "")

	joinData, _ := json.Marshal(ws.JoinRoomData{ChatID: f.chat.ID, ProductID: f.chat.ProductID})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventJoinRoom, Data: joinData})
	require.True(t, f.hub.InRoom(buyer.ID, f.chat.RoomID()))

	leaveData, _ := json.Marshal(ws.LeaveRoomData{ChatID: f.chat.ID})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventLeaveRoom, Data: leaveData})
	assert.False(t, f.hub.InRoom(buyer.ID, f.chat.RoomID()))

	// Leaving an unknown chat is a silent no-op.
	unknown, _ := json.Marshal(ws.LeaveRoomData{ChatID: "chat-missing"})
	f.uc.HandleSocketEvent(buyer, ws.Event{Type: ws.EventLeaveRoom, Data: unknown})
	assert.Empty(t, receivedEvents(buyer))
}
