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
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// ResolveChatController handles the find-or-create endpoint for direct
// conversations (one controller per endpoint).
type ResolveChatController struct {
	UC *usecase.ResolveChatUseCase
}

func NewResolveChatController(pool *pgxpool.Pool, cache cacheport.Cache) *ResolveChatController {
	repo := adapter.NewPgChatRepository(pool)
	return &ResolveChatController{UC: usecase.NewResolveChatUseCase(repo, cache)}
}

type resolveChatRequest struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
}

func (h *ResolveChatController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		requester, ok := middleware.CurrentUser(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		var req resolveChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		id, err := h.UC.Execute(ctx, usecase.ResolveChatInput{
			RequesterID: requester,
			OtherID:     req.OtherUserID,
		})
		if err != nil {
			status := http.StatusBadRequest
			switch {
			case errors.Is(err, chat.ErrSelfChat):
				status = http.StatusBadRequest
			case errors.Is(err, chat.ErrUnauthenticated):
				status = http.StatusUnauthorized
			case errors.Is(err, usecase.ErrPersistence):
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"conversation_id": id})
	}
}
