package chat

import "errors"

// Domain-level errors for chat behaviors
var (
	ErrInvalidConversation  = errors.New("chat: conversation/message mismatch")
	ErrNotParticipant       = errors.New("chat: sender is not a participant in the conversation")
	ErrEmptyMessage         = errors.New("chat: empty message body")
	ErrSelfChat             = errors.New("chat: cannot open a conversation with yourself")
	ErrUnauthenticated      = errors.New("chat: requester identity is not established")
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrProfileNotFound      = errors.New("chat: profile not found")
)
