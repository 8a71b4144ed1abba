package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// GetMessageController handles fetching a conversation's history (one
// controller per endpoint). Only participants may read it.
type GetMessageController struct {
	UC     *usecase.GetMessageUseCase
	Member *usecase.JoinConversationUseCase
}

func NewGetMessageController(pool *pgxpool.Pool) *GetMessageController {
	repo := adapter.NewPgChatRepository(pool)
	return &GetMessageController{
		UC:     usecase.NewGetMessageUseCase(repo),
		Member: usecase.NewJoinConversationUseCase(repo),
	}
}

func (h *GetMessageController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		chatID := c.Param("chatId")
		if chatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "chatId is required"})
			return
		}

		// Defaults
		limit := 500
		offset := 0

		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := h.Member.Execute(ctx, usecase.JoinConversationInput{ConversationID: chatID, UserID: userID}); err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, chat.ErrNotParticipant):
				status = http.StatusForbidden
			case errors.Is(err, usecase.ErrPersistence):
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		msgs, err := h.UC.Execute(ctx, usecase.GetMessageInput{ConversationID: chatID, Limit: limit, Offset: offset})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, usecase.ErrPersistence) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, gin.H{
				"id":              m.ID,
				"conversation_id": m.ConversationID,
				"sender_id":       m.SenderID,
				"created_at":      m.CreatedAt,
				"body":            m.Body,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"messages": out,
			"limit":    limit,
			"offset":   offset,
			"count":    len(out),
		})
	}
}
