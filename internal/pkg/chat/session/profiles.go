package session

import (
	"context"
	"sync"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// profileCache is a session-owned cache of sender profiles. It lives
// and dies with the session, so profiles never leak across sign-ins.
type profileCache struct {
	source ProfileSource

	mu   sync.Mutex
	byID map[string]*chat.Profile
}

func newProfileCache(source ProfileSource) *profileCache {
	return &profileCache{source: source, byID: make(map[string]*chat.Profile)}
}

// cached returns the profile if already known, without fetching.
func (c *profileCache) cached(userID string) *chat.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[userID]
}

// resolve returns the cached profile or fetches and caches it.
func (c *profileCache) resolve(ctx context.Context, userID string) (*chat.Profile, error) {
	c.mu.Lock()
	if p, ok := c.byID[userID]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	if c.source == nil {
		return nil, chat.ErrProfileNotFound
	}
	p, err := c.source.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byID[userID] = p
	c.mu.Unlock()
	return p, nil
}

func (c *profileCache) clear() {
	c.mu.Lock()
	c.byID = make(map[string]*chat.Profile)
	c.mu.Unlock()
}
