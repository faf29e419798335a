package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvas-server/shared/database"
	"canvas-server/shared/jobs"
	sharedLogger "canvas-server/shared/logger"
	"canvas-server/shared/messaging"
	sharedMiddleware "canvas-server/shared/middleware"
	"canvas-server/webhook-service/internal/config"
	"canvas-server/webhook-service/internal/handler"
	"canvas-server/webhook-service/internal/service"
	"canvas-server/webhook-service/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

func main() {
	cfg := config.Load()

	// --- Logger Setup (Используем shared/logger) ---
	loggerCfg := cfg.Logger
	if loggerCfg.Service == "" {
		loggerCfg.Service = "webhook-service"
	}
	logger, err := sharedLogger.New(loggerCfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", loggerCfg.Level))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

	lifecycle := jobs.NewLifecycleManager(pgPool, jobRepo, nil, logger)

	publisher, err := messaging.NewRabbitMQRealtimePublisher(mqConn)
	if err != nil {
		zap.L().Fatal("Failed to create realtime publisher", zap.Error(err))
	}
	defer publisher.Close()

	uploader, err := storage.NewLocalUploader(cfg.Storage.SavePath, cfg.Storage.PublicBaseURL, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize result storage", zap.Error(err))
	}

	fetchClient := &http.Client{Timeout: time.Duration(cfg.Webhook.FetchTimeoutSec) * time.Second}
	resolver := service.NewResultResolver(fetchClient, uploader, cfg.Storage.Bucket, logger)
	reconciler := service.NewReconciler(pgPool, lifecycle, docRepo, nodeRepo, resolver, publisher, logger)
	webhookHandler := handler.NewWebhookHandler(reconciler, logger)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.AppEnv == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(sharedMiddleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	webhookHandler.RegisterRoutes(router, handler.SignatureMiddleware(cfg.Webhook.SigningSecret, logger))

	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))
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
