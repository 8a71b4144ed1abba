package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
)

// NotifyChannel is the Postgres channel raised by the insert trigger on
// chat.message (see migrations/0001_init.sql).
const NotifyChannel = "chat_message_insert"

const reconnectDelay = 2 * time.Second

// insertPayload mirrors the JSON built by the chat.message insert trigger.
type insertPayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	CreatedAt      time.Time `json:"created_at"`
	Body           string    `json:"body"`
}

// Listener bridges Postgres NOTIFY events into the Broker so that rows
// appended by other API nodes reach local subscribers. Inserts made on
// this node are also published directly after the durable write; the
// synchronizer deduplicates by id, so double delivery is harmless.
type Listener struct {
	pool   *pgxpool.Pool
	broker *Broker
	log    *zap.Logger
}

func NewListener(pool *pgxpool.Pool, broker *Broker, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{pool: pool, broker: broker, log: log}
}

// Run blocks consuming notifications until ctx is canceled. Connection
// failures are retried on a fresh connection; notifications raised
// during the outage are lost, so every subscriber is told the feed
// dropped and must re-open instead of resuming.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn("notify listener disconnected", zap.Error(err))
			l.broker.SignalLost(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}

		var p insertPayload
		if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
			l.log.Warn("malformed notify payload", zap.Error(err))
			continue
		}
		if p.ID == "" || p.ConversationID == "" {
			l.log.Warn("notify payload missing identifiers")
			continue
		}

		l.broker.Publish(chat.Message{
			ID:             p.ID,
			ConversationID: p.ConversationID,
			SenderID:       p.SenderID,
			CreatedAt:      p.CreatedAt,
			Body:           p.Body,
		})
	}
}
