package entity

import "time"

// Chat is one conversation between a buyer and a seller about a product.
// At most one active chat exists per (buyer, seller, product) triple;
// moderation "delete" only clears Active so message history stays valid.
type Chat struct {
	ID            string         `json:"id" firestore:"id"`
	ProductID     string         `json:"product_id" firestore:"productId"`
	BuyerID       string         `json:"buyer_id" firestore:"buyerId"`
	SellerID      string         `json:"seller_id" firestore:"sellerId"`
	Participants  []string       `json:"participants" firestore:"participants"`
	Active        bool           `json:"active" firestore:"active"`
	LastMessage   string         `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time      `json:"last_message_at" firestore:"lastMessageAt"`
	UnreadCount   map[string]int `json:"unread_count" firestore:"unreadCount"`
	CreatedAt     time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time      `json:"updated_at" firestore:"updatedAt"`
}

func (c *Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// RoomID returns the broadcast scope for this chat. Rooms are keyed by
// product so every connection viewing the product's chat shares one scope.
func (c *Chat) RoomID() string {
	return c.ProductID
}
