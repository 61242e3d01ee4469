package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tradepost/tradepost-messaging/internal/admission"
	"github.com/tradepost/tradepost-messaging/internal/broker"
	"github.com/tradepost/tradepost-messaging/internal/config"
	"github.com/tradepost/tradepost-messaging/internal/database"
	"github.com/tradepost/tradepost-messaging/internal/handler"
	"github.com/tradepost/tradepost-messaging/internal/middleware"
	"github.com/tradepost/tradepost-messaging/internal/moderation"
	"github.com/tradepost/tradepost-messaging/internal/notify"
	"github.com/tradepost/tradepost-messaging/internal/qcache"
	"github.com/tradepost/tradepost-messaging/internal/realtime"
	"github.com/tradepost/tradepost-messaging/internal/repository"
	"github.com/tradepost/tradepost-messaging/internal/service"
	"github.com/tradepost/tradepost-messaging/internal/sweep"
	"github.com/tradepost/tradepost-messaging/pkg/logger"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.Environment == "development"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	database.Connect(cfg)
	database.Migrate()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	eventBroker, err := broker.NewRedisEventBroker(redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize event broker: %v", err)
	}
	defer eventBroker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories
	userRepo := repository.NewUserRepository(database.DB)
	threadRepo := repository.NewThreadRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	opRepo := repository.NewOperationRepository(database.DB)

	// Shared infrastructure
	admissionCtrl := admission.NewController(redisClient)
	cache := qcache.New(redisClient, qcache.TTLTiers{
		Short:  cfg.CacheTTLShort,
		Medium: cfg.CacheTTLMedium,
		Long:   cfg.CacheTTLLong,
	})
	hub := realtime.NewHub(eventBroker)
	go func() {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Hub stopped: %v", err)
		}
	}()

	// Journal sweeper
	sweeper := sweep.NewSweeper(opRepo, cfg.JournalRetention, cfg.SweepInterval)
	go sweeper.Run(ctx)

	// Services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry)
	checker := moderation.NewKeywordChecker([]string{"viagra", "free money", "wire transfer urgently"})
	messageService := service.NewMessageService(threadRepo, messageRepo, admissionCtrl, checker, notify.NewLogSink(), hub, cache)
	bulkService := service.NewBulkService(database.DB, threadRepo, messageRepo, opRepo, hub, cache, cfg.UndoWindow)

	// Handlers
	authHandler := handler.NewAuthHandler(authService)
	messageHandler := handler.NewMessageHandler(messageService, admissionCtrl, cache)
	bulkHandler := handler.NewBulkHandler(bulkService)
	wsHandler := handler.NewWebSocketHandler(hub, messageService, realtime.PolicyFromConfig(cfg))

	router := gin.Default()
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.HSTSMiddleware(cfg.Environment == "production"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	ingressLimiter := middleware.NewRateLimiter(redisClient, middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
	})
	router.Use(ingressLimiter.Middleware())

	// Public routes
	router.POST("/api/auth/register", authHandler.Register)
	router.POST("/api/auth/login", authHandler.Login)

	// Protected routes (require JWT; mutations additionally require CSRF)
	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	protected.Use(middleware.CSRFMiddleware())
	{
		protected.POST("/threads", messageHandler.CreateThread)
		protected.GET("/threads", messageHandler.ListThreads)
		protected.PUT("/threads/:id/prefs", messageHandler.SetThreadPref)
		protected.POST("/messages", messageHandler.Send)
		protected.PUT("/messages/:id", messageHandler.Edit)
		protected.GET("/messages", messageHandler.List)
		protected.GET("/limits", messageHandler.Limits)

		protected.POST("/bulk-delete", bulkHandler.BulkDelete)
		protected.POST("/bulk-mark-read", bulkHandler.BulkMarkRead)
		protected.POST("/operations/:id/undo", bulkHandler.Undo)

		protected.GET("/ws", wsHandler.HandleWebSocket)
		protected.GET("/realtime/policy", wsHandler.Policy)
	}

	log.Printf("Server starting on %s", cfg.ServerPort)
	if err := router.Run(cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
