package usecase

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/ratelimit"
	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// ChatUseCase is the message relay: it validates, persists and fans out
// chat traffic. Both the live socket path and the HTTP fallback path come
// through here, so the two produce identical persisted state.
type ChatUseCase struct {
	chatRepo      repository.ChatRepository
	userRepo      repository.UserRepository
	productRepo   repository.ProductRepository
	readStateRepo repository.ReadStateRepository
	hub           *ws.Hub
	rateLimiter   *ratelimit.RateLimiter
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	readStateRepo repository.ReadStateRepository,
	hub *ws.Hub,
) *ChatUseCase {
	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ChatUseCase{
		chatRepo:      chatRepo,
		userRepo:      userRepo,
		productRepo:   productRepo,
		readStateRepo: readStateRepo,
		hub:           hub,
		rateLimiter:   rateLimiter,
	}
}

type CreateChatInput struct {
	ProductID      string
	InitialMessage string
}

type SendMessageInput struct {
	ChatID string
	Body   string
	Kind   string
	Nonce  string
	// ExcludeConnID is the sender's own connection on the live path; empty
	// on the HTTP fallback path. The sender learns the canonical message
	// from the return value (or a direct ack), never from the room fan-out.
	ExcludeConnID string
}

type ChatResponse struct {
	*entity.Chat
	Product   *entity.Product `json:"product,omitempty"`
	OtherUser *entity.User    `json:"other_user,omitempty"`
}

type MessageResponse struct {
	*entity.Message
	Sender *entity.User `json:"sender,omitempty"`
}

// GetOrCreateChat returns the active chat between the caller and the
// product's seller, creating it lazily on first contact. Chats are created
// by buyers; a seller opening their inbox only sees chats buyers started.
func (uc *ChatUseCase) GetOrCreateChat(ctx context.Context, buyerID string, input CreateChatInput) (*ChatResponse, error) {
	allowed, waitTime := uc.rateLimiter.Allow(buyerID, "create_chat")
	if !allowed {
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before creating another chat", waitTime)
	}

	product, err := uc.productRepo.GetByID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	if buyerID == product.SellerID {
		return nil, errors.BadRequest("You cannot open a chat about your own product", nil)
	}

	seller, err := uc.userRepo.GetByID(ctx, product.SellerID)
	if err != nil {
		return nil, err
	}

	chat, err := uc.chatRepo.GetByTriple(ctx, buyerID, product.SellerID, input.ProductID)
	if err != nil {
		if !errors.Is(err, "NOT_FOUND") {
			return nil, err
		}

		chat = &entity.Chat{
			ProductID:     input.ProductID,
			BuyerID:       buyerID,
			SellerID:      product.SellerID,
			Participants:  []string{buyerID, product.SellerID},
			UnreadCount:   make(map[string]int),
			LastMessageAt: time.Now(),
		}
		if err := uc.chatRepo.Create(ctx, chat); err != nil {
			return nil, err
		}
		logger.Info("Created chat %s for product %s (buyer=%s seller=%s)", chat.ID, input.ProductID, buyerID, product.SellerID)
	}

	if input.InitialMessage != "" {
		if _, err := uc.SendMessage(ctx, buyerID, SendMessageInput{
			ChatID: chat.ID,
			Body:   input.InitialMessage,
			Kind:   entity.MessageKindText,
		}); err != nil {
			return nil, err
		}
		chat, err = uc.chatRepo.GetByID(ctx, chat.ID)
		if err != nil {
			return nil, err
		}
	}

	return &ChatResponse{
		Chat:      chat,
		Product:   product,
		OtherUser: seller,
	}, nil
}

// SendMessage runs the relay pipeline: validate, classify, persist with a
// server-assigned timestamp, then fan out to the product room. Broadcast
// happens only after persistence succeeds, and never under the hub lock,
// so a failed write can never leave a broadcast-without-persist.
func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*MessageResponse, error) {
	allowed, waitTime := uc.rateLimiter.Allow(senderID, "send_message")
	if !allowed {
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", waitTime)
	}

	chat, err := uc.chatRepo.GetByID(ctx, input.ChatID)
	if err != nil {
		return nil, err
	}

	if !chat.HasParticipant(senderID) {
		logger.Warn("Rejected send by non-participant %s on chat %s", senderID, input.ChatID)
		return nil, errors.Forbidden("User is not a participant in this chat", nil)
	}

	if !chat.Active {
		return nil, errors.Validation("Chat is no longer active", nil)
	}

	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, errors.Validation("Message body must not be empty", nil)
	}

	kind := input.Kind
	if kind == "" {
		kind = entity.MessageKindText
	}

	var offer *entity.OfferAmount
	switch kind {
	case entity.MessageKindText:
	case entity.MessageKindOffer:
		parsed, ok := entity.ParsePriceOffer(body)
		if !ok {
			return nil, errors.Validation("Price offer must be a currency code followed by a positive amount", nil)
		}
		offer = parsed
	default:
		return nil, errors.Validation("Unknown message kind", nil)
	}

	sender, err := uc.userRepo.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}

	// A message resent over the fallback path, or echoed after a mid-flight
	// reconnect, carries the same nonce; collapse it onto the original
	// instead of persisting twice.
	if input.Nonce != "" {
		if existing, err := uc.chatRepo.GetMessageByNonce(ctx, input.ChatID, senderID, input.Nonce); err == nil {
			logger.Debug("Collapsed duplicate submission nonce=%s chat=%s", input.Nonce, input.ChatID)
			return &MessageResponse{Message: existing, Sender: sender}, nil
		}
	}

	message := &entity.Message{
		ChatID:   input.ChatID,
		SenderID: senderID,
		Body:     body,
		Kind:     kind,
		Offer:    offer,
		Nonce:    input.Nonce,
		ReadBy:   []string{senderID},
	}

	if err := uc.chatRepo.CreateMessage(ctx, message); err != nil {
		return nil, err
	}

	chat.LastMessage = body
	chat.LastMessageAt = message.CreatedAt
	if chat.UnreadCount == nil {
		chat.UnreadCount = make(map[string]int)
	}
	for _, participantID := range chat.Participants {
		if participantID != senderID {
			chat.UnreadCount[participantID]++
		}
	}
	if err := uc.chatRepo.Update(ctx, chat); err != nil {
		logger.Error("Failed to update chat %s after message %s: %v", chat.ID, message.ID, err)
	}

	// The sender has trivially read their own message.
	if err := uc.readStateRepo.MarkRead(ctx, chat.ID, senderID, message.CreatedAt); err != nil {
		logger.Warn("Failed to advance sender read state on chat %s: %v", chat.ID, err)
	}

	uc.hub.Broadcast(chat.RoomID(), ws.NewEvent(ws.EventMessageReceived, message), input.ExcludeConnID)

	return &MessageResponse{Message: message, Sender: sender}, nil
}

func (uc *ChatUseCase) GetUserChats(ctx context.Context, userID string, limit, offset int) ([]*ChatResponse, int64, error) {
	chats, total, err := uc.chatRepo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	var chatResponses []*ChatResponse
	for _, chat := range chats {
		chatResp := &ChatResponse{Chat: chat}

		if product, err := uc.productRepo.GetByID(ctx, chat.ProductID); err == nil {
			chatResp.Product = product
		} else {
			logger.Warn("Product %s not found for chat %s: %v", chat.ProductID, chat.ID, err)
		}

		for _, participantID := range chat.Participants {
			if participantID != userID {
				if otherUser, err := uc.userRepo.GetByID(ctx, participantID); err == nil {
					chatResp.OtherUser = otherUser
				}
				break
			}
		}

		chatResponses = append(chatResponses, chatResp)
	}

	return chatResponses, total, nil
}

// GetChatMessages returns the ordered transcript snapshot used on session
// open. Messages come back ascending by server timestamp.
func (uc *ChatUseCase) GetChatMessages(ctx context.Context, userID, chatID string, limit, offset int) ([]*entity.Message, int64, error) {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return nil, 0, err
	}

	if !chat.HasParticipant(userID) {
		return nil, 0, errors.Forbidden("User is not a participant in this chat", nil)
	}

	return uc.chatRepo.GetMessagesByChat(ctx, chatID, limit, offset)
}

// MarkChatAsRead advances the caller's read high-water mark to upTo. The
// store enforces monotonicity, so a stale call with an earlier timestamp is
// a no-op; messages persisted after upTo stay unread.
func (uc *ChatUseCase) MarkChatAsRead(ctx context.Context, userID, chatID string, upTo time.Time) error {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}

	if !chat.HasParticipant(userID) {
		return errors.Forbidden("User is not a participant in this chat", nil)
	}

	if upTo.IsZero() {
		upTo = chat.LastMessageAt
	}

	if err := uc.readStateRepo.MarkRead(ctx, chatID, userID, upTo); err != nil {
		return err
	}

	if chat.UnreadCount == nil {
		chat.UnreadCount = make(map[string]int)
	}
	chat.UnreadCount[userID] = 0
	if err := uc.chatRepo.Update(ctx, chat); err != nil {
		return err
	}

	return nil
}

// HandleTyping broadcasts an ephemeral typing signal to the chat's room,
// excluding the actor. Nothing is persisted; a failed or rate-limited
// signal is silently dropped.
func (uc *ChatUseCase) HandleTyping(ctx context.Context, userID, chatID, excludeConnID string, started bool) {
	allowed, _ := uc.rateLimiter.Allow(userID, "typing")
	if !allowed {
		return
	}

	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return
	}
	if !chat.HasParticipant(userID) || !chat.Active {
		return
	}

	eventType := ws.EventTypingStarted
	if !started {
		eventType = ws.EventTypingStopped
	}

	uc.hub.Broadcast(chat.RoomID(), ws.NewEvent(eventType, ws.TypingEventData{
		ActorID: userID,
		ChatID:  chatID,
	}), excludeConnID)
}

// DeactivateChat is the moderation "delete": a strong soft-delete that
// keeps history retrievable, evicts the live room, and blocks further
// sends. Never a hard delete.
func (uc *ChatUseCase) DeactivateChat(ctx context.Context, chatID string) error {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		return err
	}

	if !chat.Active {
		return nil
	}

	chat.Active = false
	if err := uc.chatRepo.Update(ctx, chat); err != nil {
		return err
	}

	uc.hub.EvictRoom(chat.RoomID(), ws.NewEvent(ws.EventChatDeactivated, ws.ChatDeactivatedData{ChatID: chatID}))
	logger.Info("Chat %s deactivated by moderation, room %s evicted", chatID, chat.RoomID())

	return nil
}

// GetChatMessagesForAudit bypasses the participant check; admin only.
func (uc *ChatUseCase) GetChatMessagesForAudit(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error) {
	return uc.chatRepo.GetMessagesByChat(ctx, chatID, limit, offset)
}
