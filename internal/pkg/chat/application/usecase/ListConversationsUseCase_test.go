package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/port"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

type mapCache struct {
	values map[string]string
	gets   int
	sets   int
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]string)}
}

func (c *mapCache) Get(ctx context.Context, key string) (string, error) {
	c.gets++
	v, ok := c.values[key]
	if !ok {
		return "", port.ErrMiss
	}
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.sets++
	c.values[key] = value
	return nil
}

func (c *mapCache) Del(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			delete(c.values, k)
			n++
		}
	}
	return n, nil
}

func (c *mapCache) Ping(ctx context.Context) error { return nil }
func (c *mapCache) Close() error                   { return nil }

func TestListConversationsReadsThroughCache(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repoCalls := 0
	repo := &stubChatRepo{
		listConvs: func(ctx context.Context, userID string, limit int) ([]chat.Conversation, error) {
			repoCalls++
			return []chat.Conversation{{ID: "conv-1", CreatedAt: at}}, nil
		},
	}
	cache := newMapCache()
	uc := NewListConversationsUseCase(repo, cache)

	first, err := uc.Execute(context.Background(), ListConversationsInput{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, repoCalls)
	require.Equal(t, 1, cache.sets)

	// Second read is served from the cache.
	second, err := uc.Execute(context.Background(), ListConversationsInput{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repoCalls)

	// After invalidation the repository is hit again.
	_, err = cache.Del(context.Background(), ListingCacheKey("alice"))
	require.NoError(t, err)
	_, err = uc.Execute(context.Background(), ListConversationsInput{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 2, repoCalls)
}

func TestListConversationsRequiresAuthentication(t *testing.T) {
	uc := NewListConversationsUseCase(&stubChatRepo{}, nil)
	_, err := uc.Execute(context.Background(), ListConversationsInput{UserID: ""})
	require.ErrorIs(t, err, chat.ErrUnauthenticated)
}
