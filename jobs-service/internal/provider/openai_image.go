package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIImageConfig содержит конфигурацию провайдера изображений.
type OpenAIImageConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Size       string
	TimeoutSec int
}

// OpenAIImageProvider генерирует изображения через OpenAI-совместимый API.
// API синхронный: результат приходит в ответе на постановку, поэтому Submit
// возвращает Immediate и webhook для таких задач не ожидается.
type OpenAIImageProvider struct {
	client *openai.Client
	model  string
	size   string
	logger *zap.Logger
}

var _ Provider = (*OpenAIImageProvider)(nil)

// imageInput - параметры генерации изображения из input задачи.
type imageInput struct {
	Prompt string `json:"prompt"`
}

// NewOpenAIImageProvider создает новый OpenAIImageProvider.
func NewOpenAIImageProvider(cfg OpenAIImageConfig, logger *zap.Logger) (*OpenAIImageProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("не указан API ключ провайдера изображений")
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 120
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}

	return &OpenAIImageProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		size:   cfg.Size,
		logger: logger.Named("OpenAIImageProvider"),
	}, nil
}

// Kind возвращает тип задач провайдера.
func (p *OpenAIImageProvider) Kind() models.JobKind {
	return models.JobKindImage
}

// Submit выполняет генерацию изображения.
func (p *OpenAIImageProvider) Submit(ctx context.Context, input json.RawMessage) (SubmitResult, error) {
	var in imageInput
	if err := json.Unmarshal(input, &in); err != nil {
		return SubmitResult{}, fmt.Errorf("%w: malformed image input: %v", models.ErrInvalidInput, err)
	}
	if in.Prompt == "" {
		return SubmitResult{}, fmt.Errorf("%w: prompt is required", models.ErrInvalidInput)
	}

	start := time.Now()
	resp, err := p.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         in.Prompt,
		Model:          p.model,
		Size:           p.size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("image generation request failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return SubmitResult{}, errors.New("image generation returned no data")
	}

	p.logger.Debug("Image generated",
		zap.String("model", p.model),
		zap.Duration("elapsed", time.Since(start)))

	// API не возвращает идентификатор запроса, генерируем свой.
	return SubmitResult{
		ExternalRequestID: "openai-" + uuid.NewString(),
		Immediate: &models.JobResult{
			URL:  resp.Data[0].URL,
			Type: "image/png",
		},
	}, nil
}
