package entity

import "time"

const (
	MessageKindText  = "text"
	MessageKindOffer = "offer"
)

// Message is one chat line. Immutable once created; ordering within a chat
// is by the server-assigned CreatedAt, with ID as tiebreaker.
type Message struct {
	ID       string       `json:"id" firestore:"id"`
	ChatID   string       `json:"chat_id" firestore:"chatId"`
	SenderID string       `json:"sender_id" firestore:"senderId"`
	Body     string       `json:"body" firestore:"body"`
	Kind     string       `json:"kind" firestore:"kind"`
	Offer    *OfferAmount `json:"offer,omitempty" firestore:"offer,omitempty"`
	// Nonce is the client-generated submission id used to collapse a
	// message sent over the HTTP fallback and echoed again after reconnect.
	Nonce     string    `json:"nonce,omitempty" firestore:"nonce,omitempty"`
	ReadBy    []string  `json:"read_by" firestore:"readBy"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
