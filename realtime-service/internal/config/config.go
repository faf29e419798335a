package config

import (
	"fmt"

	"canvas-server/shared/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит всю конфигурацию для realtime-сервиса.
type Config struct {
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Server   ServerConfig
	Postgres PostgresConfig
	RabbitMQ RabbitMQConfig
	JWTSecret string // Загружается из секрета
}

// ServerConfig содержит настройки HTTP сервера.
type ServerConfig struct {
	Port        string `envconfig:"REALTIME_SERVICE_PORT" default:"8083"`
	MetricsPort string `envconfig:"REALTIME_METRICS_PORT" default:"9093"`
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
// БД нужна только для авторизации подписок на документные топики.
type PostgresConfig struct {
	URL string `envconfig:"DATABASE_URL" required:"true"`
}

// RabbitMQConfig содержит настройки подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL string `envconfig:"RABBITMQ_URL" required:"true"`
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	var loadErr error
	cfg.JWTSecret, loadErr = utils.ReadSecretOrEnv("jwt_secret", "JWT_SECRET")
	if loadErr != nil {
		return nil, loadErr
	}

	return &cfg, nil
}
