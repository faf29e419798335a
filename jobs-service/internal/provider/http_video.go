package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"canvas-server/shared/models"

	"go.uber.org/zap"
)

// HTTPVideoConfig содержит конфигурацию провайдера видео.
type HTTPVideoConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	WebhookURL string
	TimeoutSec int
}

// HTTPVideoProvider ставит задачи генерации видео во внешний REST API.
// API асинхронный: постановка возвращает request_id, результат приходит
// webhook-уведомлением на WebhookURL.
type HTTPVideoProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	webhookURL string
	logger     *zap.Logger
}

var _ Provider = (*HTTPVideoProvider)(nil)

type videoSubmitRequest struct {
	Model      string          `json:"model,omitempty"`
	Input      json.RawMessage `json:"input"`
	WebhookURL string          `json:"webhook_url"`
}

type videoSubmitResponse struct {
	RequestID string `json:"request_id"`
}

// NewHTTPVideoProvider создает новый HTTPVideoProvider.
func NewHTTPVideoProvider(cfg HTTPVideoConfig, logger *zap.Logger) (*HTTPVideoProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("не указан базовый URL видео-провайдера")
	}
	if cfg.WebhookURL == "" {
		return nil, errors.New("не указан webhook URL для видео-провайдера")
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	return &HTTPVideoProvider{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		webhookURL: cfg.WebhookURL,
		logger:     logger.Named("HTTPVideoProvider"),
	}, nil
}

// Kind возвращает тип задач провайдера.
func (p *HTTPVideoProvider) Kind() models.JobKind {
	return models.JobKindVideo
}

// Submit ставит задачу генерации видео.
func (p *HTTPVideoProvider) Submit(ctx context.Context, input json.RawMessage) (SubmitResult, error) {
	if len(input) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: video input is required", models.ErrInvalidInput)
	}

	body, err := json.Marshal(videoSubmitRequest{
		Model:      p.model,
		Input:      input,
		WebhookURL: p.webhookURL,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/generations", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("video submit request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return SubmitResult{}, fmt.Errorf("video submit returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed videoSubmitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if parsed.RequestID == "" {
		return SubmitResult{}, errors.New("video submit response without request_id")
	}

	p.logger.Debug("Video generation submitted", zap.String("request_id", parsed.RequestID))
	return SubmitResult{ExternalRequestID: parsed.RequestID}, nil
}
