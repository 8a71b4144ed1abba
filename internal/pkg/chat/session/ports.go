package session

import (
	"context"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// Store is the durable side of the message store as the synchronizer
// sees it: full ascending history and an append that returns the
// canonical record with its store-assigned id and timestamp.
type Store interface {
	History(ctx context.Context, conversationID string) ([]chat.Message, error)
	Append(ctx context.Context, conversationID string, senderID string, body string) (chat.Message, error)
}

// Subscription is a cancellable handle onto a conversation's insert
// stream. Close must be idempotent.
type Subscription interface {
	Close()
}

// Bus is the realtime side of the message store. fn is invoked for
// every message appended to the conversation after the subscription is
// established, including the subscriber's own appends. lost is invoked
// when the feed drops and inserts may have been missed.
type Bus interface {
	Subscribe(conversationID string, fn func(msg chat.Message), lost func(err error)) Subscription
}

// ProfileSource resolves sender profiles that are not yet cached.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*chat.Profile, error)
}
