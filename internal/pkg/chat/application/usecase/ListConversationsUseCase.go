package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/port"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	repository "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/port"
)

const listingCacheTTL = 5 * time.Minute

// ListingCacheKey names the cached conversation listing of one user.
// Resolve and touch operations delete it to keep listings fresh.
func ListingCacheKey(userID string) string {
	return "chat:conversations:" + userID
}

// ListConversationsInput identifies whose listing to fetch.
type ListConversationsInput struct {
	UserID string
	Limit  int
}

// ListConversationsUseCase returns a user's conversations ordered by
// last activity, read through the cache.
type ListConversationsUseCase struct {
	Repo  repository.ChatRepository
	Cache port.Cache
}

func NewListConversationsUseCase(repo repository.ChatRepository, cache port.Cache) *ListConversationsUseCase {
	return &ListConversationsUseCase{Repo: repo, Cache: cache}
}

func (uc *ListConversationsUseCase) Execute(ctx context.Context, in ListConversationsInput) ([]chat.Conversation, error) {
	if in.UserID == "" {
		return nil, chat.ErrUnauthenticated
	}

	key := ListingCacheKey(in.UserID)
	if uc.Cache != nil {
		if raw, err := uc.Cache.Get(ctx, key); err == nil {
			var convs []chat.Conversation
			if err := json.Unmarshal([]byte(raw), &convs); err == nil {
				return convs, nil
			}
		}
	}

	convs, err := uc.Repo.ListConversations(ctx, in.UserID, in.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if uc.Cache != nil {
		if raw, err := json.Marshal(convs); err == nil {
			_ = uc.Cache.Set(ctx, key, string(raw), listingCacheTTL)
		}
	}

	return convs, nil
}
