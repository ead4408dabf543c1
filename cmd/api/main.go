package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/legal-rag/backend/internal/api/handlers"
	"github.com/legal-rag/backend/internal/cache/redis"
	"github.com/legal-rag/backend/internal/evaluation"
	"github.com/legal-rag/backend/internal/ingestion"
	"github.com/legal-rag/backend/internal/kg/builder"
	"github.com/legal-rag/backend/internal/kg/neo4j"
	"github.com/legal-rag/backend/internal/language"
	"github.com/legal-rag/backend/internal/llm"
	"github.com/legal-rag/backend/internal/metrics"
	"github.com/legal-rag/backend/internal/middleware/ratelimit"
	"github.com/legal-rag/backend/internal/middleware/security"
	"github.com/legal-rag/backend/internal/middleware/validation"
	"github.com/legal-rag/backend/internal/prompt"
	"github.com/legal-rag/backend/internal/query"
	"github.com/legal-rag/backend/internal/rerank"
	"github.com/legal-rag/backend/internal/retrieval"
	"github.com/legal-rag/backend/internal/storage/sqlite"
	"github.com/legal-rag/backend/internal/vector/zilliz"
	"github.com/legal-rag/backend/pkg/config"
	appLogger "github.com/legal-rag/backend/pkg/logger"
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

	appLogger.Info("Starting legal RAG API server")
	metrics.Init()

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelStartup()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	zillizClient, err := zilliz.NewClient(
		startupCtx,
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionPrefix,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer zillizClient.Close()

	if err := zillizClient.EnsureCollections(startupCtx); err != nil {
		appLogger.Fatal("Failed to create collections", zap.Error(err))
	}

	var (
		embeddingCache llm.EmbeddingCache
		cacheFlusher   handlers.CacheFlusher
	)
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(startupCtx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Embedding cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer redisClient.Close()
			embeddingCache = redisClient
			cacheFlusher = redisClient
		}
	}

	var (
		citationGraph ingestion.CitationGraph
		relatedFinder handlers.RelatedFinder
	)
	if cfg.Neo4j.Enabled {
		neo4jClient, err := neo4j.NewClient(startupCtx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Citation graph unavailable, continuing without it", zap.Error(err))
		} else {
			defer neo4jClient.Close(context.Background())
			if err := neo4jClient.EnsureConstraints(startupCtx); err != nil {
				appLogger.Warn("Failed to create graph constraints", zap.Error(err))
			}
			kgBuilder := builder.NewBuilder(neo4jClient)
			citationGraph = kgBuilder
			relatedFinder = kgBuilder
		}
	}

	llmClient := llm.NewClient(llm.Options{
		APIKey:           cfg.LLM.APIKey,
		BaseURL:          cfg.LLM.BaseURL,
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		Timeout:          time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		EmbeddingAPIKey:  cfg.LLM.EmbeddingAPIKey,
		EmbeddingBaseURL: cfg.LLM.EmbeddingBaseURL,
		EmbeddingModel:   cfg.LLM.EmbeddingModel,
		EmbeddingDim:     cfg.LLM.EmbeddingDim,
		EmbeddingPrefix:  cfg.LLM.EmbeddingPrefix,
		EmbeddingRetry:   llm.DefaultRetryConfig(cfg.LLM.EmbeddingRetries),
		CompletionRetry:  llm.DefaultRetryConfig(cfg.LLM.CompletionRetries),
		Cache:            embeddingCache,
		CacheTTL:         time.Duration(cfg.Redis.TTLHours) * time.Hour,
	})

	reranker, err := rerank.New(rerank.Options{
		Provider:    cfg.Rerank.Provider,
		Endpoint:    cfg.Rerank.Endpoint,
		TimeoutSec:  cfg.Rerank.TimeoutSec,
		FallbackCap: cfg.Rerank.FallbackCap,
	})
	if err != nil {
		appLogger.Fatal("Failed to create re-ranker", zap.Error(err))
	}

	budgeter, err := prompt.NewBudgeter(prompt.DefaultTemplate, prompt.NewTokenizer(cfg.Prompt.TokenizerModel), cfg.Prompt.TPMLimit)
	if err != nil {
		appLogger.Fatal("Failed to create prompt budgeter", zap.Error(err))
	}

	retriever := retrieval.NewRetriever(zillizClient, sqliteClient, cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold)

	queryEngine := query.NewEngine(
		llmClient,
		llmClient,
		retriever,
		reranker,
		budgeter,
		language.NewDetector(),
		sqliteClient,
	)

	processor := ingestion.NewProcessor(sqliteClient, zillizClient, llmClient, citationGraph, ingestion.Options{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		OverlapSize:  cfg.Chunking.OverlapSize,
		Concurrency:  cfg.Retrieval.EmbeddingConcurrency,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		ConnectOrigins: strings.Split(cfg.Server.AllowOrigins, ","),
		IsDevelopment:  cfg.Logging.Format == "console",
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	queryHandler := handlers.NewQueryHandler(queryEngine, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, relatedFinder, sqliteClient)
	settingsHandler := handlers.NewSettingsHandler(sqliteClient)
	adminHandler := handlers.NewAdminHandler(cacheFlusher, evaluation.NewEvaluator(queryEngine, llmClient))
	wsHandler := handlers.NewWebSocketHandler(queryEngine, cfg.Server.MaxQueryLength)

	validationCfg := validation.Config{
		MaxQueryLength:  cfg.Server.MaxQueryLength,
		MaxDocumentSize: cfg.Server.BodyLimit,
		Logger:          appLogger.Named("validation"),
	}

	api := app.Group("/api/v1")

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			Logger:            appLogger.Named("ratelimit"),
		})
		defer limiter.Stop()
		api.Use(limiter.Middleware())
	}
	api.Use(validation.JSONBody())

	api.Post("/query", validation.Query(validationCfg), queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	api.Get("/documents/:category", documentHandler.ListDocuments)
	api.Post("/documents/:category", validation.Document(validationCfg), documentHandler.CreateDocument)
	api.Get("/documents/:category/:id", documentHandler.GetDocument)
	api.Put("/documents/:category/:id", validation.Document(validationCfg), documentHandler.UpdateDocument)
	api.Delete("/documents/:category/:id", documentHandler.DeleteDocument)
	api.Get("/documents/:category/:id/related", documentHandler.RelatedDocuments)
	api.Get("/sync-failures", documentHandler.ListSyncFailures)

	api.Get("/settings", settingsHandler.GetSettings)
	api.Post("/settings", settingsHandler.UpdateSetting)

	api.Post("/admin/cache/flush", adminHandler.FlushEmbeddings)
	api.Post("/admin/evaluate", adminHandler.Evaluate)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "relational store unreachable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

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
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
