package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	v1 "github.com/sanjay-xdr/pine-chat/cmd/api/router/v1"
	"github.com/sanjay-xdr/pine-chat/internal/config"
	cacheAdapter "github.com/sanjay-xdr/pine-chat/internal/infrastructure/cache/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/database"
	queueAdapter "github.com/sanjay-xdr/pine-chat/internal/infrastructure/queue/adapter"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/realtime"
	"github.com/sanjay-xdr/pine-chat/internal/infrastructure/stream"
	"github.com/sanjay-xdr/pine-chat/internal/pkg/chat/application/task"
	httpHandler "github.com/sanjay-xdr/pine-chat/internal/pkg/chat/presentation/http"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := godotenv.Load(); err != nil {
		log.Info(".env file not loaded", zap.Error(err))
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := database.Connect(connectCtx, cfg.DBURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	cache, err := cacheAdapter.NewRedisAdapter(cfg.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer func() { _ = cache.Close() }()

	queueClient, err := queueAdapter.NewAsynqClient(cfg.RedisURL)
	if err != nil {
		log.Fatal("queue client init failed", zap.Error(err))
	}
	defer func() { _ = queueClient.Close() }()

	queueServer, err := queueAdapter.NewAsynqServer(cfg.RedisURL, log)
	if err != nil {
		log.Fatal("queue server init failed", zap.Error(err))
	}
	task.RegisterTouchConversationTask(queueServer, pool, cache)
	go func() {
		if err := queueServer.Run(ctx); err != nil {
			log.Error("queue server stopped", zap.Error(err))
		}
	}()

	broker := stream.NewBroker()
	listener := stream.NewListener(pool, broker, log)
	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error("notify listener stopped", zap.Error(err))
		}
	}()

	wsRouter := realtime.NewRouter()
	defer wsRouter.Close()

	r := gin.Default()
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	v1.RegisterRoutes(r, httpHandler.Deps{
		Pool:      pool,
		Cache:     cache,
		Queue:     queueClient,
		Broker:    broker,
		Router:    wsRouter,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		log.Info("api listening", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
}
