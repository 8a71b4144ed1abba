package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	qport "github.com/sanjay-xdr/pine-chat/internal/infrastructure/queue/port"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/realtime"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/stream"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/task"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/usecase"
	chat "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/domain"
	repoAdapter "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/adapter"
	repository "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/persistence/repository/port"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/middleware"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/session"
)

// ChatSocketController serves the realtime chat view. Each "join" frame
// opens a synchronizer session for that conversation; the session's
// ordered sequence is streamed back as it changes, "message" frames go
// through the session's optimistic send, and "leave"/disconnect closes
// the session.
type ChatSocketController struct {
	router          *realtime.Router
	broker          *stream.Broker
	store           sessionStore
	profiles        repository.ProfileRepository
	joinRoomUC      *usecase.JoinConversationUseCase
	log             *zap.Logger
	jwtSecret       string
	inflightTimeout time.Duration
}

func NewChatSocketController(pool *pgxpool.Pool, router *realtime.Router, broker *stream.Broker, queue qport.Client, jwtSecret string, log *zap.Logger) *ChatSocketController {
	repo := repoAdapter.NewPgChatRepository(pool)
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatSocketController{
		router: router,
		broker: broker,
		store: sessionStore{
			messages: usecase.NewGetMessageUseCase(repo),
			send:     usecase.NewSendMessageUseCase(repo, broker),
			queue:    queue,
		},
		profiles:        repoAdapter.NewPgProfileRepository(pool),
		joinRoomUC:      usecase.NewJoinConversationUseCase(repo),
		log:             log,
		jwtSecret:       jwtSecret,
		inflightTimeout: 5 * time.Second,
	}
}

// sessionStore adapts the application usecases to the synchronizer's
// store port. Append also schedules the listing bookkeeping task.
type sessionStore struct {
	messages *usecase.GetMessageUseCase
	send     *usecase.SendMessageUseCase
	queue    qport.Client
}

const historyPageSize = 500

// History pages through the full ascending history. The session needs
// the complete sequence up to its subscription point; a truncated load
// would leave a gap between the window and the live tail.
func (st sessionStore) History(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var out []chat.Message
	for offset := 0; ; offset += historyPageSize {
		page, err := st.messages.Execute(ctx, usecase.GetMessageInput{
			ConversationID: conversationID,
			Limit:          historyPageSize,
			Offset:         offset,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < historyPageSize {
			return out, nil
		}
	}
}

func (st sessionStore) Append(ctx context.Context, conversationID string, senderID string, body string) (chat.Message, error) {
	msg, err := st.send.Execute(ctx, usecase.SendMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
	})
	if err != nil {
		return chat.Message{}, err
	}
	if st.queue != nil {
		_ = task.EnqueueTouch(ctx, st.queue, conversationID, msg.CreatedAt)
	}
	return *msg, nil
}

// sessionBus adapts the stream broker to the synchronizer's bus port.
type sessionBus struct {
	broker *stream.Broker
}

func (b sessionBus) Subscribe(conversationID string, fn func(msg chat.Message), lost func(err error)) session.Subscription {
	return b.broker.Subscribe(conversationID, fn, lost)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for now; plug a proper checker when needed.
		return true
	},
}

type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Body           string `json:"body,omitempty"`
}

type errorFrame struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Error          string `json:"error"`
	ConversationID string `json:"conversation_id,omitempty"`
	// Text carries the rejected input back so the client can retry it.
	Text string `json:"text,omitempty"`
}

type ackFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type messagesFrame struct {
	Type           string           `json:"type"`
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Messages       []messagePayload `json:"messages"`
}

type messagePayload struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Body           string          `json:"body"`
	Pending        bool            `json:"pending,omitempty"`
	Sender         *profilePayload `json:"sender,omitempty"`
}

type profilePayload struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// openView is one joined conversation on a socket: the synchronizer
// session plus the goroutine streaming its updates out.
type openView struct {
	conversationID string
	sess           *session.Session
	stop           chan struct{}
}

const defaultReadTimeout = 60 * time.Second

// Handle upgrades HTTP connections to websocket and processes frames until the client disconnects.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Browser websocket clients cannot set Authorization headers,
		// so the token travels as a query parameter.
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
			return
		}
		userID, err := middleware.ParseUserID(token, ctl.jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response; just return.
			return
		}

		conn := realtime.NewConnection(userID, ws)
		ctl.router.Attach(conn)

		views := make(map[string]*openView)
		defer func() {
			for _, v := range views {
				close(v.stop)
				v.sess.Close()
			}
			ctl.router.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		ws.SetReadLimit(1 << 20) // 1MB payload cap
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		if payload, err := json.Marshal(ackFrame{Type: "connected"}); err == nil {
			_ = conn.Send(payload)
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
					errors.Is(err, websocket.ErrCloseSent) {
					return
				}
				ctl.replyError(conn, "read_error", err.Error())
				return
			}

			var frame inboundFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(conn, "bad_request", "invalid payload")
				continue
			}

			switch frame.Type {
			case "join":
				ctl.handleJoin(c, conn, userID, frame, views)
			case "leave":
				ctl.handleLeave(conn, frame, views)
			case "message":
				ctl.handleMessage(c, conn, frame, views)
			default:
				ctl.replyError(conn, "unsupported_type", "unknown frame type")
			}
		}
	}
}

func (ctl *ChatSocketController) handleJoin(c *gin.Context, conn *realtime.Connection, userID string, frame inboundFrame, views map[string]*openView) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, "bad_request", "conversation_id is required")
		return
	}
	if _, ok := views[frame.ConversationID]; ok {
		ctl.replyError(conn, "bad_request", "conversation already joined")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.inflightTimeout)
	defer cancel()

	if err := ctl.joinRoomUC.Execute(ctx, usecase.JoinConversationInput{
		ConversationID: frame.ConversationID,
		UserID:         userID,
	}); err != nil {
		ctl.handleUseCaseError(conn, err)
		return
	}

	sess, err := session.New(session.Config{
		ConversationID: frame.ConversationID,
		SelfID:         userID,
		Store:          ctl.store,
		Bus:            sessionBus{broker: ctl.broker},
		Profiles:       ctl.profiles,
		Logger:         ctl.log,
	})
	if err != nil {
		ctl.replyError(conn, "internal_error", err.Error())
		return
	}

	if _, err := sess.Open(ctx); err != nil {
		sess.Close()
		if errors.Is(err, session.ErrLoadFailed) {
			ctl.errorWithConversation(conn, "load_failed", err.Error(), frame.ConversationID)
		} else {
			ctl.handleUseCaseError(conn, err)
		}
		return
	}

	view := &openView{conversationID: frame.ConversationID, sess: sess, stop: make(chan struct{})}
	views[frame.ConversationID] = view
	go ctl.streamUpdates(conn, view)

	if payload, err := json.Marshal(ackFrame{Type: "joined", ConversationID: frame.ConversationID}); err == nil {
		_ = conn.Send(payload)
	}
	ctl.sendSnapshot(conn, view.sess, frame.ConversationID)
}

func (ctl *ChatSocketController) handleLeave(conn *realtime.Connection, frame inboundFrame, views map[string]*openView) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, "bad_request", "conversation_id is required")
		return
	}
	if view, ok := views[frame.ConversationID]; ok {
		close(view.stop)
		view.sess.Close()
		delete(views, frame.ConversationID)
	}

	if payload, err := json.Marshal(ackFrame{Type: "left", ConversationID: frame.ConversationID}); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *ChatSocketController) handleMessage(c *gin.Context, conn *realtime.Connection, frame inboundFrame, views map[string]*openView) {
	if frame.ConversationID == "" {
		ctl.replyError(conn, "bad_request", "conversation_id is required")
		return
	}
	view, ok := views[frame.ConversationID]
	if !ok {
		ctl.errorWithConversation(conn, "not_joined", "join the conversation before sending", frame.ConversationID)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.inflightTimeout)
	defer cancel()

	// Sends run on the read loop, so one client's messages reach the
	// store in submission order.
	if _, err := view.sess.Send(ctx, frame.Body); err != nil {
		var sendErr *session.SendError
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			ctl.errorWithConversation(conn, "empty_message", "message body is empty", frame.ConversationID)
		case errors.As(err, &sendErr):
			ctl.sendFailure(conn, frame.ConversationID, sendErr)
		case errors.Is(err, session.ErrClosed):
			// View torn down mid-send; nothing to report to a gone view.
		default:
			ctl.handleUseCaseError(conn, err)
		}
		return
	}
}

// streamUpdates pushes the session's ordered sequence to the client
// whenever it changes, until the view or the connection goes away.
func (ctl *ChatSocketController) streamUpdates(conn *realtime.Connection, view *openView) {
	for {
		select {
		case <-view.stop:
			return
		case <-conn.Done():
			return
		case <-view.sess.Updates():
			ctl.sendSnapshot(conn, view.sess, view.conversationID)
		}
	}
}

func (ctl *ChatSocketController) sendSnapshot(conn *realtime.Connection, sess *session.Session, conversationID string) {
	msgs := sess.Snapshot()
	status, _ := sess.Status()

	out := messagesFrame{
		Type:           "messages",
		ConversationID: conversationID,
		Status:         status.String(),
		Messages:       make([]messagePayload, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toPayload(m))
	}

	payload, err := json.Marshal(out)
	if err != nil {
		ctl.log.Warn("snapshot encode failed", zap.Error(err))
		return
	}
	_ = conn.Send(payload)
}

func (ctl *ChatSocketController) handleUseCaseError(conn *realtime.Connection, err error) {
	switch {
	case errors.Is(err, usecase.ErrPersistence):
		ctl.replyError(conn, "internal_error", "unexpected persistence error")
	case errors.Is(err, chat.ErrNotParticipant):
		ctl.replyError(conn, "forbidden", "user is not a participant in this conversation")
	default:
		ctl.replyError(conn, "bad_request", err.Error())
	}
}

func (ctl *ChatSocketController) sendFailure(conn *realtime.Connection, conversationID string, sendErr *session.SendError) {
	frame := errorFrame{
		Type:           "error",
		Code:           "send_failed",
		Error:          sendErr.Error(),
		ConversationID: conversationID,
		Text:           sendErr.Text,
	}
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *ChatSocketController) errorWithConversation(conn *realtime.Connection, code string, message string, conversationID string) {
	frame := errorFrame{Type: "error", Code: code, Error: message, ConversationID: conversationID}
	if payload, err := json.Marshal(frame); err == nil {
		_ = conn.Send(payload)
	}
}

func (ctl *ChatSocketController) replyError(conn *realtime.Connection, code string, message string) {
	ctl.errorWithConversation(conn, code, message, "")
}

func toPayload(msg chat.Message) messagePayload {
	p := messagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		CreatedAt:      msg.CreatedAt,
		Body:           msg.Body,
		Pending:        strings.HasPrefix(msg.ID, "temp-"),
	}
	if msg.Sender != nil {
		p.Sender = &profilePayload{
			ID:        msg.Sender.ID,
			Username:  msg.Sender.Username,
			AvatarURL: msg.Sender.AvatarURL,
		}
	}
	return p
}
