package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvas-server/realtime-service/internal/config"
	"canvas-server/realtime-service/internal/handler"
	"canvas-server/realtime-service/internal/hub"
	"canvas-server/realtime-service/internal/messaging"
	"canvas-server/realtime-service/internal/service"
	"canvas-server/shared/database"
	sharedLogger "canvas-server/shared/logger"
	sharedMessaging "canvas-server/shared/messaging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().Str("service", "realtime-service").Logger()

	// Репозитории shared/database работают на zap.
	zapLogger, err := sharedLogger.New(sharedLogger.Config{Level: cfg.LogLevel, Service: "realtime-service"})
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось инициализировать zap-логгер")
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось создать пул PostgreSQL")
	}
	defer pgPool.Close()
	if err := pgPool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к PostgreSQL")
	}
	logger.Info().Msg("Успешное подключение к PostgreSQL")

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQ.URL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось подключиться к RabbitMQ")
	}
	defer rabbitConn.Close()
	logger.Info().Msg("Успешное подключение к RabbitMQ")

	// Хаб создается здесь и передается зависимостью, глобального экземпляра нет.
	connectionHub := hub.NewHub(logger)

	docRepo := database.NewPgDocumentRepository(zapLogger)
	authService := service.NewAuthService(cfg.JWTSecret, pgPool, docRepo, logger)

	publisher, err := sharedMessaging.NewRabbitMQRealtimePublisher(rabbitConn)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось создать publisher")
	}
	defer publisher.Close()

	wsHandler := handler.NewWebSocketHandler(connectionHub, authService, publisher, logger)

	// Консьюмер broadcast-сообщений: своя эксклюзивная очередь на экземпляр.
	instanceID := uuid.NewString()
	mqConsumer, err := messaging.NewConsumer(rabbitConn, connectionHub, instanceID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Не удалось создать консьюмер RabbitMQ")
	}
	go func() {
		if err := mqConsumer.StartConsuming(); err != nil {
			logger.Error().Err(err).Msg("Консьюмер RabbitMQ завершился с ошибкой")
		}
	}()
	logger.Info().Msg("Консьюмер RabbitMQ запущен")

	// Основной сервер: только WebSocket и health.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// Метрики на отдельном порту.
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.Server.MetricsPort,
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Сервер метрик завершился с ошибкой")
		}
	}()

	logger.Info().Str("port", cfg.Server.Port).Msg("WebSocket сервер запущен")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ошибка запуска сервера")
		}
	}()

	// Ожидание сигнала завершения для graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Получен сигнал завершения, начинаем graceful shutdown")

	mqConsumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ошибка при graceful shutdown")
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("Realtime сервис остановлен")
}

// connectRabbitMQ пытается подключиться к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn().Err(err).Int("attempt", i+1).Int("maxRetries", maxRetries).
			Msg("Не удалось подключиться к RabbitMQ, повтор")
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("не удалось подключиться к RabbitMQ после %d попыток: %w", maxRetries, err)
}
