package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	repository "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/port"
)

// ListingInvalidator drops cached conversation listings so subsequent
// reads reflect a newly created conversation.
type ListingInvalidator interface {
	Del(ctx context.Context, keys ...string) (int64, error)
}

// ResolveChatInput identifies the unordered user pair to resolve.
type ResolveChatInput struct {
	RequesterID string
	OtherID     string
}

// ResolveChatUseCase maps a pair of users to their single shared
// conversation, creating it on first contact. Repeated calls with the
// same pair, in either order, return the same conversation id.
type ResolveChatUseCase struct {
	Repo  repository.ChatRepository
	Cache ListingInvalidator
}

func NewResolveChatUseCase(repo repository.ChatRepository, cache ListingInvalidator) *ResolveChatUseCase {
	return &ResolveChatUseCase{Repo: repo, Cache: cache}
}

func (uc *ResolveChatUseCase) Execute(ctx context.Context, in ResolveChatInput) (string, error) {
	if in.RequesterID == "" {
		return "", chat.ErrUnauthenticated
	}
	if in.OtherID == "" {
		return "", fmt.Errorf("other user id is required")
	}
	if in.RequesterID == in.OtherID {
		return "", chat.ErrSelfChat
	}

	id, err := uc.Repo.FindPairConversation(ctx, in.RequesterID, in.OtherID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, chat.ErrConversationNotFound) {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := time.Now().UTC()
	convID, err := uc.Repo.CreateConversation(ctx, chat.Conversation{CreatedAt: now})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	for _, uid := range []string{in.RequesterID, in.OtherID} {
		p := chat.Participant{
			ConversationID: convID,
			UserID:         uid,
			Role:           chat.ParticipantRoleMember,
			JoinedAt:       now,
		}
		if err := uc.Repo.AddParticipant(ctx, p); err != nil {
			// No orphaned, participant-less conversation may persist.
			_ = uc.Repo.DeleteConversation(ctx, convID)
			return "", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	if uc.Cache != nil {
		_, _ = uc.Cache.Del(ctx,
			ListingCacheKey(in.RequesterID),
			ListingCacheKey(in.OtherID),
		)
	}

	return convID, nil
}
