package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	qport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/queue/port"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/task"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// SendMessageController handles the send-message endpoint only (one
// controller per endpoint). The append is synchronous so the caller
// receives the canonical record; listing bookkeeping goes to the queue.
type SendMessageController struct {
	UC  *usecase.SendMessageUseCase
	Q   qport.Client
	log *zap.Logger
}

func NewSendMessageController(pool *pgxpool.Pool, pub usecase.InsertPublisher, client qport.Client, log *zap.Logger) *SendMessageController {
	repo := adapter.NewPgChatRepository(pool)
	if log == nil {
		log = zap.NewNop()
	}
	return &SendMessageController{
		UC:  usecase.NewSendMessageUseCase(repo, pub),
		Q:   client,
		log: log,
	}
}

// sendMessageRequest is the DTO for the HTTP request body
type sendMessageRequest struct {
	Body string `json:"body"`
}

func (h *SendMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		senderID, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conversationID := c.Param("chatId")
		if conversationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
			return
		}

		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		msg, err := h.UC.Execute(ctx, usecase.SendMessageInput{
			ConversationID: conversationID,
			SenderID:       senderID,
			Body:           req.Body,
		})
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, chat.ErrEmptyMessage):
				status = http.StatusBadRequest
			case errors.Is(err, chat.ErrNotParticipant):
				status = http.StatusForbidden
			case errors.Is(err, usecase.ErrPersistence):
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		if h.Q != nil {
			if err := task.EnqueueTouch(ctx, h.Q, msg.ConversationID, msg.CreatedAt); err != nil {
				h.log.Warn("touch task enqueue failed",
					zap.String("conversationId", msg.ConversationID), zap.Error(err))
			}
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":              msg.ID,
			"conversation_id": msg.ConversationID,
			"sender_id":       msg.SenderID,
			"created_at":      msg.CreatedAt,
			"body":            msg.Body,
		})
	}
}
