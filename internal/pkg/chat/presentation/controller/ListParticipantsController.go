package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// ListParticipantsController serves a conversation's participant ids
// (one controller per endpoint). Only participants may read them.
type ListParticipantsController struct {
	UC     *usecase.ListParticipantsUseCase
	Member *usecase.JoinConversationUseCase
}

func NewListParticipantsController(pool *pgxpool.Pool) *ListParticipantsController {
	repo := adapter.NewPgChatRepository(pool)
	return &ListParticipantsController{
		UC:     usecase.NewListParticipantsUseCase(repo),
		Member: usecase.NewJoinConversationUseCase(repo),
	}
}

func (h *ListParticipantsController) Handle() gin.HandlerFunc {
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

		ids, err := h.UC.Execute(ctx, usecase.ListParticipantsInput{ConversationID: chatID})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, usecase.ErrPersistence) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"participants": ids})
	}
}
