package chat

import (
	"strings"
	"time"
)

// Message is an immutable log entry in a conversation. ID and CreatedAt
// are assigned by the store on append; a message constructed locally
// carries neither until the store acknowledges it.
type Message struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	CreatedAt      time.Time `db:"created_at"`
	Body           string    `db:"body"`

	// Sender is the lazily resolved profile of SenderID; nil until hydrated.
	Sender *Profile `db:"-"`
}

// NewMessage validates and normalizes a message before it is persisted.
func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" || m.SenderID == "" {
		return nil, ErrInvalidConversation
	}

	m.Body = strings.TrimSpace(m.Body)
	if m.Body == "" {
		return nil, ErrEmptyMessage
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	return &m, nil
}

// Before reports whether m sorts ahead of other in a conversation's
// ordered sequence: by creation time, ties broken by id.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
