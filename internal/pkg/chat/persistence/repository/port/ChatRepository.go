package repository

import (
	"context"
	"time"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// ChatRepository defines persistence operations for the chat domain.
type ChatRepository interface {
	// FindPairConversation resolves the unique conversation holding exactly
	// the two given users, in either argument order. Returns
	// chat.ErrConversationNotFound when no such conversation exists.
	FindPairConversation(ctx context.Context, userA string, userB string) (string, error)

	CreateConversation(ctx context.Context, c chat.Conversation) (string, error)
	AddParticipant(ctx context.Context, p chat.Participant) error

	// DeleteConversation exists for the creation rollback path only;
	// conversations are never deleted in normal operation.
	DeleteConversation(ctx context.Context, conversationID string) error

	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]chat.Conversation, error)

	// SaveMessage appends durably and returns the canonical record with
	// the store-assigned id and creation timestamp.
	SaveMessage(ctx context.Context, m chat.Message) (chat.Message, error)

	// GetMessagesByConversation returns history ordered by creation time
	// ascending, ties broken by id.
	GetMessagesByConversation(ctx context.Context, conversationID string, limit int, offset int) ([]chat.Message, error)

	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

// ProfileRepository resolves user profiles owned by the identity provider.
type ProfileRepository interface {
	// GetProfile returns chat.ErrProfileNotFound when the user is unknown.
	GetProfile(ctx context.Context, userID string) (*chat.Profile, error)
}
