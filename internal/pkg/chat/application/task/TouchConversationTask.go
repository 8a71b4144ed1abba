package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	cacheport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/port"
	qport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/queue/port"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	repoAdapter "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
)

// TouchConversationTaskType is the queue task name for post-send
// conversation bookkeeping.
const TouchConversationTaskType = "chat:touch_conversation"

// TouchConversationTaskPayload is the JSON payload transported via the queue.
type TouchConversationTaskPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageAt      time.Time `json:"messageAt"`
}

// EnqueueTouch schedules the bookkeeping task after a durable append.
// Best-effort: a lost touch only delays listing freshness.
func EnqueueTouch(ctx context.Context, client qport.Client, conversationID string, at time.Time) error {
	payload, err := json.Marshal(TouchConversationTaskPayload{
		ConversationID: conversationID,
		MessageAt:      at,
	})
	if err != nil {
		return err
	}
	_, err = client.Enqueue(ctx,
		qport.Task{Type: TouchConversationTaskType, Payload: payload},
		qport.EnqueueOption{Queue: "chat", MaxRetry: 5},
	)
	return err
}

// RegisterTouchConversationTask binds the task handler to the provided
// server. The handler advances last_message_at and drops both
// participants' cached listings so ordering by activity stays correct.
func RegisterTouchConversationTask(srv qport.Server, pool *pgxpool.Pool, cache cacheport.Cache) {
	srv.Register(TouchConversationTaskType, func(ctx context.Context, t qport.Task) error {
		var p TouchConversationTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			// malformed payload: do not retry indefinitely
			return err
		}

		repo := repoAdapter.NewPgChatRepository(pool)

		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := repo.TouchConversation(ctx, p.ConversationID, p.MessageAt); err != nil {
			return err
		}

		if cache != nil {
			ids, err := repo.ListParticipantIDs(ctx, p.ConversationID)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(ids))
			for _, id := range ids {
				keys = append(keys, usecase.ListingCacheKey(id))
			}
			_, _ = cache.Del(ctx, keys...)
		}
		return nil
	})
}
