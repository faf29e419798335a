package config

import (
	"fmt"
	"time"

	"canvas-server/shared/utils"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config содержит всю конфигурацию для сервиса задач генерации.
type Config struct {
	AppEnv    string `envconfig:"APP_ENV" default:"development"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Providers ProvidersConfig
	JWTSecret string // Загружается из секрета
	CORS      CORSConfig
}

// ServerConfig содержит настройки HTTP сервера.
type ServerConfig struct {
	Port string `envconfig:"JOBS_SERVICE_PORT" default:"8081"`
}

// PostgresConfig содержит настройки подключения к PostgreSQL.
type PostgresConfig struct {
	URL string `envconfig:"DATABASE_URL" required:"true"`
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Addr        string        `envconfig:"REDIS_ADDR" required:"true"`
	Password    string        `envconfig:"REDIS_PASSWORD" default:""`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	JobCacheTTL time.Duration `envconfig:"JOB_CACHE_TTL" default:"30s"`
}

// RabbitMQConfig содержит настройки подключения к RabbitMQ.
type RabbitMQConfig struct {
	URL string `envconfig:"RABBITMQ_URL" required:"true"`
}

// ProvidersConfig содержит настройки внешних провайдеров генерации.
type ProvidersConfig struct {
	// Базовый callback URL, который передается провайдеру при постановке
	// задачи; провайдер шлет на него уведомление о завершении.
	WebhookBaseURL string `envconfig:"PROVIDER_WEBHOOK_BASE_URL" required:"true"`

	OpenAI OpenAIConfig
	Video  VideoProviderConfig
}

// OpenAIConfig содержит настройки провайдера генерации изображений.
type OpenAIConfig struct {
	BaseURL    string `envconfig:"OPENAI_BASE_URL" default:""`
	Model      string `envconfig:"OPENAI_IMAGE_MODEL" default:"dall-e-3"`
	Size       string `envconfig:"OPENAI_IMAGE_SIZE" default:"1024x1024"`
	TimeoutSec int    `envconfig:"OPENAI_TIMEOUT_SEC" default:"120"`
	APIKey     string // Загружается из секрета
}

// VideoProviderConfig содержит настройки провайдера генерации видео.
type VideoProviderConfig struct {
	BaseURL    string `envconfig:"VIDEO_PROVIDER_BASE_URL" default:""`
	Model      string `envconfig:"VIDEO_PROVIDER_MODEL" default:""`
	TimeoutSec int    `envconfig:"VIDEO_PROVIDER_TIMEOUT_SEC" default:"30"`
	APIKey     string // Загружается из секрета
}

// CORSConfig содержит настройки CORS.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

// LoadConfig загружает конфигурацию из переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку, если файла нет)
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
	cfg.Providers.OpenAI.APIKey, loadErr = utils.ReadSecretOrEnv("openai_api_key", "OPENAI_API_KEY")
	if loadErr != nil {
		return nil, loadErr
	}
	// Секрет видео-провайдера опционален: без него видеогенерация отключена.
	cfg.Providers.Video.APIKey, _ = utils.ReadSecretOrEnv("video_provider_api_key", "VIDEO_PROVIDER_API_KEY")

	return &cfg, nil
}
