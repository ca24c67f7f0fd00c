package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/convorag/backend/internal/api/handlers"
	"github.com/convorag/backend/internal/cache/redis"
	"github.com/convorag/backend/internal/chat"
	"github.com/convorag/backend/internal/confidence"
	"github.com/convorag/backend/internal/conversation"
	"github.com/convorag/backend/internal/ingestion"
	"github.com/convorag/backend/internal/llm"
	"github.com/convorag/backend/internal/metrics"
	"github.com/convorag/backend/internal/middleware/ratelimit"
	"github.com/convorag/backend/internal/middleware/security"
	"github.com/convorag/backend/internal/middleware/validation"
	"github.com/convorag/backend/internal/orchestrator"
	"github.com/convorag/backend/internal/relaxation"
	"github.com/convorag/backend/internal/session"
	"github.com/convorag/backend/internal/storage/sqlite"
	"github.com/convorag/backend/internal/strategy"
	"github.com/convorag/backend/internal/synthesis"
	"github.com/convorag/backend/internal/vector/milvus"
	"github.com/convorag/backend/pkg/config"
	appLogger "github.com/convorag/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ConvoRAG API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	// the server runs without redis, it only loses caching
	redisClient, err := redis.NewClient(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.EmbeddingTTL,
		cfg.Redis.AnswerTTL,
	)
	if err != nil {
		appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	sessionStore := session.NewStore(
		time.Duration(cfg.Session.IdleTimeoutSec)*time.Second,
		time.Duration(cfg.Session.CleanupIntervalSec)*time.Second,
	)

	tracker := conversation.NewTracker(conversation.TrackerConfig{
		MaxKeyEntities:           cfg.Conversation.MaxKeyEntities,
		MaxConstraints:           cfg.Conversation.MaxConstraints,
		PhaseConfidenceThreshold: cfg.Conversation.PhaseConfidenceThreshold,
	})

	relaxer := relaxation.New(relaxation.Config{
		Stages:              cfg.Retrieval.Stages,
		StageTurnWidth:      cfg.Retrieval.StageTurnWidth,
		InitialBoostTurns:   cfg.Retrieval.InitialBoostTurns,
		BoostTopK:           cfg.Retrieval.BoostTopK,
		BoostThreshold:      cfg.Retrieval.BoostThreshold,
		BoostContextWeight:  cfg.Retrieval.BoostContextWeight,
		MinSimilarity:       cfg.Retrieval.MinSimilarity,
		MaxContextWeight:    cfg.Retrieval.MaxContextWeight,
		HighWaterConfidence: cfg.Retrieval.HighWaterConfidence,
		LowWaterConfidence:  cfg.Retrieval.LowWaterConfidence,
	})

	adaptive := confidence.New(confidence.Config{
		BaseThreshold:     cfg.Retrieval.BaseConfidenceThreshold,
		MinThreshold:      cfg.Retrieval.MinConfidenceThreshold,
		MaxThreshold:      cfg.Retrieval.MaxConfidenceThreshold,
		TurnDecay:         cfg.Retrieval.TurnDecay,
		QualityBonus:      cfg.Retrieval.QualityBonus,
		ComplexityPenalty: cfg.Retrieval.ComplexityPenalty,
		AdjustmentDecay:   cfg.Retrieval.AdjustmentDecay,
		MaxAdjustment:     cfg.Retrieval.MaxAdjustment,
	})

	var embeddingCache orchestrator.EmbeddingCache
	var answerCache chat.AnswerCache
	if redisClient != nil {
		embeddingCache = redisClient
		answerCache = redisClient
	}

	retriever := orchestrator.New(llmClient, milvusClient, embeddingCache, orchestrator.Config{
		MaxConcurrent:   cfg.Retrieval.MaxConcurrentRetrievals,
		PerQueryTimeout: time.Duration(cfg.Retrieval.PerQueryTimeoutSec) * time.Second,
	})

	synthesizer := synthesis.New(llmClient, cfg.LLM.Temperature, cfg.LLM.MaxTokens)

	engine := chat.NewEngine(
		sessionStore,
		tracker,
		relaxer,
		adaptive,
		retriever,
		synthesizer,
		sqliteClient,
		answerCache,
		strategy.GeneratorConfig{
			MaxQueries:       cfg.Retrieval.MaxQueriesPerRequest,
			MinQueryLength:   cfg.Retrieval.MinQueryLength,
			MaxQueryLength:   cfg.Retrieval.MaxQueryLength,
			RecentTurnWindow: cfg.Conversation.RecentTurnWindow,
		},
		cfg.Conversation.MaxTurnHistory,
	)

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient, redisClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	rateLimiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer rateLimiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(rateLimiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	chatHandler := handlers.NewChatHandler(engine)
	documentHandler := handlers.NewDocumentHandler(processor)
	wsHandler := handlers.NewWebSocketHandler(engine)

	api := app.Group("/api/v1")

	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/chat/history", chatHandler.GetChatHistory)
	api.Delete("/sessions/:id", chatHandler.ClearSession)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Delete("/documents/:id", documentHandler.DeleteDocument)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/api/v1/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
