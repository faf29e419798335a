package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvas-server/jobs-service/internal/config"
	"canvas-server/jobs-service/internal/handler"
	"canvas-server/jobs-service/internal/provider"
	"canvas-server/jobs-service/internal/service"
	"canvas-server/pkg/migration"
	"canvas-server/shared/database"
	"canvas-server/shared/jobs"
	sharedLogger "canvas-server/shared/logger"
	"canvas-server/shared/messaging"
	sharedMiddleware "canvas-server/shared/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Setup (Используем shared/logger) ---
	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
		Service:  "jobs-service",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		zap.L().Fatal("Failed to create PostgreSQL pool", zap.Error(err))
	}
	defer pgPool.Close()
	if err := pgPool.Ping(ctx); err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	zap.L().Info("Connected to PostgreSQL")

	// Накатываем миграции схемы до старта сервиса.
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: database.MigrationsPath,
		MigrationsFS:   database.MigrationsFS,
	}, pgPool)
	if err := migrator.Up(ctx); err != nil {
		zap.L().Fatal("Failed to apply migrations", zap.Error(err))
	}
	zap.L().Info("Database migrations applied")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis")

	mqConn, err := connectRabbitMQ(cfg.RabbitMQ.URL, logger)
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	// --- Dependency Injection ---
	jobRepo := database.NewPgJobRepository(logger)
	docRepo := database.NewPgDocumentRepository(logger)
	nodeRepo := database.NewPgDocumentNodeRepository(logger)
	jobCache := database.NewRedisJobCache(redisClient, cfg.Redis.JobCacheTTL, logger)

	lifecycle := jobs.NewLifecycleManager(pgPool, jobRepo, jobCache, logger)

	publisher, err := messaging.NewRabbitMQRealtimePublisher(mqConn)
	if err != nil {
		zap.L().Fatal("Failed to create realtime publisher", zap.Error(err))
	}
	defer publisher.Close()

	imageProvider, err := provider.NewOpenAIImageProvider(provider.OpenAIImageConfig{
		APIKey:     cfg.Providers.OpenAI.APIKey,
		BaseURL:    cfg.Providers.OpenAI.BaseURL,
		Model:      cfg.Providers.OpenAI.Model,
		Size:       cfg.Providers.OpenAI.Size,
		TimeoutSec: cfg.Providers.OpenAI.TimeoutSec,
	}, logger)
	if err != nil {
		zap.L().Fatal("Failed to create image provider", zap.Error(err))
	}

	providers := []provider.Provider{imageProvider}
	if cfg.Providers.Video.BaseURL != "" {
		videoProvider, err := provider.NewHTTPVideoProvider(provider.HTTPVideoConfig{
			BaseURL:    cfg.Providers.Video.BaseURL,
			APIKey:     cfg.Providers.Video.APIKey,
			Model:      cfg.Providers.Video.Model,
			WebhookURL: cfg.Providers.WebhookBaseURL + "/webhooks/generation",
			TimeoutSec: cfg.Providers.Video.TimeoutSec,
		}, logger)
		if err != nil {
			zap.L().Fatal("Failed to create video provider", zap.Error(err))
		}
		providers = append(providers, videoProvider)
	} else {
		zap.L().Warn("Video provider not configured, video generation disabled")
	}
	registry := provider.NewRegistry(providers...)

	submissions := service.NewSubmissionService(pgPool, lifecycle, jobRepo, docRepo, registry, publisher, logger)
	documents := service.NewDocumentService(pgPool, docRepo, nodeRepo, logger)
	jobsHandler := handler.NewJobsHandler(submissions, documents, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(sharedMiddleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	jobsHandler.RegisterRoutes(router, sharedMiddleware.JWTAuth(cfg.JWTSecret))

	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server forced to shutdown", zap.Error(err))
	}
	zap.L().Info("Server exited")
}

// connectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("RabbitMQ connection attempt failed, retrying",
			zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Duration(i+1) * 2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
}
