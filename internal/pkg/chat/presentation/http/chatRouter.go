package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cacheport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/port"
	qport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/queue/port"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/realtime"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/stream"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/controller"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
)

// Deps bundles the shared infrastructure the chat endpoints need.
type Deps struct {
	Pool      *pgxpool.Pool
	Cache     cacheport.Cache
	Queue     qport.Client
	Broker    *stream.Broker
	Router    *realtime.Router
	JWTSecret string
	Log       *zap.Logger
}

// RegisterRoutes mounts the chat endpoints on the given group.
// The websocket endpoint sits outside the auth middleware because it
// authenticates via query token during the upgrade handshake.
func RegisterRoutes(rg *gin.RouterGroup, d Deps) {
	socket := controller.NewChatSocketController(d.Pool, d.Router, d.Broker, d.Queue, d.JWTSecret, d.Log)
	rg.GET("/chat/ws", socket.Handle())

	authed := rg.Group("")
	authed.Use(middleware.Auth(d.JWTSecret))

	resolve := controller.NewResolveChatController(d.Pool, d.Cache)
	authed.POST("/chat/direct", resolve.Handle())

	list := controller.NewListConversationsController(d.Pool, d.Cache)
	authed.GET("/chat", list.Handle())

	history := controller.NewGetMessageController(d.Pool)
	authed.GET("/chat/:chatId/messages", history.Handle())

	participants := controller.NewListParticipantsController(d.Pool)
	authed.GET("/chat/:chatId/participants", participants.Handle())

	send := controller.NewSendMessageController(d.Pool, d.Broker, d.Queue, d.Log)
	authed.POST("/chat/:chatId", send.Handle())
}
