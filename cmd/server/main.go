package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/mindful.ai/internal/api"
	"github.com/wuwenbin0122/mindful.ai/internal/auth"
	"github.com/wuwenbin0122/mindful.ai/internal/db"
	"github.com/wuwenbin0122/mindful.ai/internal/events"
	"github.com/wuwenbin0122/mindful.ai/internal/gateway"
	"github.com/wuwenbin0122/mindful.ai/internal/history"
	"github.com/wuwenbin0122/mindful.ai/internal/relay"
	"github.com/wuwenbin0122/mindful.ai/internal/utils"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger := utils.MustNewSugaredLogger(cfg.Logging)
	defer logger.Sync()

	ctx := context.Background()

	backend, err := history.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("history backend unavailable", "backend", cfg.History.Backend, "error", err)
	}
	defer backend.Close()

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTTTL, newUserStore(backend, cfg.History.Backend, logger))
	if err != nil {
		logger.Fatalw("failed to initialise auth service", "error", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatalw("redis unavailable", "addr", cfg.Redis.Addr, "error", err)
		}
		defer redisClient.Close()
	}

	publisher, err := events.NewPublisher(cfg.Events, redisClient, logger)
	if err != nil {
		logger.Fatalw("failed to initialise event publisher", "backend", cfg.Events.Backend, "error", err)
	}
	defer publisher.Close()

	// Redis consumers run elsewhere; the in-process channel has no reader but this one.
	eventsCtx, stopEvents := context.WithCancel(ctx)
	defer stopEvents()
	if cfg.Events.Backend == utils.EventsBackendGoChannel {
		if err := publisher.LogExchanges(eventsCtx, logger.Named("events")); err != nil && !errors.Is(err, events.ErrNoSubscriber) {
			logger.Warnw("exchange event log unavailable", "topic", publisher.Topic(), "error", err)
		}
	}

	modelGateway, err := gateway.New(ctx, cfg.Gateway, logger)
	if err != nil {
		logger.Fatalw("failed to initialise model gateway", "provider", cfg.Gateway.Provider, "error", err)
	}
	if closer, ok := modelGateway.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	instruction, err := gateway.ResolveSystemInstruction(cfg.Gateway.SystemInstruction, cfg.Gateway.SystemInstructionFile)
	if err != nil {
		logger.Fatalw("failed to load system instruction", "error", err)
	}

	var sink relay.EventSink
	if publisher.Enabled() {
		sink = publisher
	}

	chatRelay, err := relay.New(relay.Config{
		Store:             backend.Store,
		Gateway:           modelGateway,
		Gate:              relay.NewGate(redisClient, cfg.Redis.LockTTL, logger),
		Events:            sink,
		SystemInstruction: instruction,
		WindowSize:        cfg.History.Window,
		ExchangeTimeout:   cfg.Relay.ExchangeTimeout,
		PersistTimeout:    cfg.Relay.PersistTimeout,
		Logger:            logger.Named("relay"),
	})
	if err != nil {
		logger.Fatalw("failed to initialise relay", "error", err)
	}

	handler := api.NewHandler(authService, chatRelay, backend.Store, logger.Named("api")).
		WithErrorDetails(cfg.Logging.Development)
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Streaming replies stay open for up to one exchange.
		WriteTimeout: cfg.Relay.ExchangeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("server listening",
			"addr", server.Addr,
			"history_backend", cfg.History.Backend,
			"provider", cfg.Gateway.Provider,
			"events", cfg.Events.Backend,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("server crashed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.PersistTimeout+10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown failed", "error", err)
	}

	logger.Info("server stopped cleanly")
}

// newUserStore keeps accounts next to conversations when the backend can
// hold them. Every other backend falls back to process memory.
func newUserStore(backend *history.Backend, historyBackend string, logger *zap.SugaredLogger) auth.UserStore {
	if backend.Mongo != nil {
		return auth.NewMongoUserStore(backend.Mongo.Users)
	}
	logger.Warnw("user accounts are in-memory; registrations are lost on restart",
		"history_backend", historyBackend,
	)
	return auth.NewMemoryUserStore()
}

func setupRouter(cfg *utils.Config, handler *api.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), api.CORS(cfg.CORSAllowOrigin))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(router)

	return router
}
