package config

import (
	"log"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"canvas-server/shared/logger"
)

// Config структура для хранения всей конфигурации сервиса webhook-ов.
type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"development"`
	Port     string `env:"WEBHOOK_SERVICE_PORT" env-default:"8082"`
	Logger   logger.Config
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
	Webhook  WebhookConfig
	Storage  StorageConfig
}

// PostgresConfig конфигурация подключения к PostgreSQL.
type PostgresConfig struct {
	URL string `env:"DATABASE_URL" env-required:"true"`
}

// RabbitMQConfig конфигурация подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL string `env:"RABBITMQ_URL" env-required:"true"`
}

// WebhookConfig параметры приема провайдерских уведомлений.
type WebhookConfig struct {
	// Общий секрет HMAC-подписи, выдается провайдеру при регистрации webhook-а.
	SigningSecret string `env:"WEBHOOK_SIGNING_SECRET" env-required:"true"`
	// Таймаут на дотягивание результата по response_url и скачивание данных.
	FetchTimeoutSec int `env:"WEBHOOK_FETCH_TIMEOUT_SEC" env-default:"60"`
}

// StorageConfig параметры локального хранилища результатов.
type StorageConfig struct {
	SavePath      string `env:"RESULT_SAVE_PATH" env-required:"true"`
	PublicBaseURL string `env:"RESULT_PUBLIC_BASE_URL" env-required:"true"`
	Bucket        string `env:"RESULT_BUCKET" env-default:"generations"`
}

// Load загружает конфигурацию из переменных окружения и .env файла.
func Load() *Config {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	return &cfg
}
