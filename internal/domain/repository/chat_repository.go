package repository

import (
	"context"

	"marketchat/internal/domain/entity"
)

type ChatRepository interface {
	Create(ctx context.Context, chat *entity.Chat) error
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	GetByTriple(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Chat, int64, error)
	Update(ctx context.Context, chat *entity.Chat) error

	// Message methods. Messages are immutable; there is no update or
	// delete, only the cascading soft-delete via chat deactivation.
	CreateMessage(ctx context.Context, message *entity.Message) error
	GetMessagesByChat(ctx context.Context, chatID string, limit, offset int) ([]*entity.Message, int64, error)
	GetMessageByNonce(ctx context.Context, chatID, senderID, nonce string) (*entity.Message, error)
}
