package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	cacheport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/port"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// ListConversationsController serves the caller's conversation listing
// ordered by last activity (one controller per endpoint).
type ListConversationsController struct {
	UC *usecase.ListConversationsUseCase
}

func NewListConversationsController(pool *pgxpool.Pool, cache cacheport.Cache) *ListConversationsController {
	repo := adapter.NewPgChatRepository(pool)
	return &ListConversationsController{UC: usecase.NewListConversationsUseCase(repo, cache)}
}

func (h *ListConversationsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		convs, err := h.UC.Execute(ctx, usecase.ListConversationsInput{UserID: userID})
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, usecase.ErrPersistence) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		out := make([]gin.H, 0, len(convs))
		for _, conv := range convs {
			out = append(out, gin.H{
				"id":              conv.ID,
				"created_at":      conv.CreatedAt,
				"last_message_at": conv.LastMessageAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"conversations": out})
	}
}
