package chat

import "time"

// Conversation represents a 1:1 thread between exactly two users.
// For any unordered pair of users at most one conversation exists.
type Conversation struct {
	ID            string     `db:"id"`
	CreatedAt     time.Time  `db:"created_at"`
	LastMessageAt *time.Time `db:"last_message_at"`
}
