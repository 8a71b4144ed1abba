package usecase

import (
	"context"
	"fmt"

	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	repository "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/port"
)

// InsertPublisher republishes a durably stored message to all
// subscribers of its conversation, including the originating client.
type InsertPublisher interface {
	Publish(msg chat.Message) int
}

// SendMessageInput carries the data needed to append a new message.
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Body           string
}

// SendMessageUseCase validates, durably appends and republishes a
// message. The returned record carries the store-assigned id and
// creation timestamp.
type SendMessageUseCase struct {
	Repo      repository.ChatRepository
	Publisher InsertPublisher
}

func NewSendMessageUseCase(repo repository.ChatRepository, pub InsertPublisher) *SendMessageUseCase {
	return &SendMessageUseCase{Repo: repo, Publisher: pub}
}

func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*chat.Message, error) {
	if in.ConversationID == "" || in.SenderID == "" {
		return nil, fmt.Errorf("conversationId and senderId are required")
	}

	isParticipant, err := uc.Repo.IsParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !isParticipant {
		return nil, chat.ErrNotParticipant
	}

	msg, err := chat.NewMessage(chat.Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Body:           in.Body,
	})
	if err != nil {
		return nil, err
	}

	canonical, err := uc.Repo.SaveMessage(ctx, *msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if uc.Publisher != nil {
		uc.Publisher.Publish(canonical)
	}

	return &canonical, nil
}
