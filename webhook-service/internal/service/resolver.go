package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"go.uber.org/zap"
)

// maxResultPayloadBytes ограничивает размер скачиваемого результата.
const maxResultPayloadBytes = 256 << 20 // 256 MiB

// ResultResolver разрешает результат генерации из уведомления провайдера:
// либо он встроен в тело (images[] / video), либо его нужно забрать по
// response_url. Бинарный результат прогоняется через внешнее хранилище;
// сбой хранилища деградирует до URL провайдера и не проваливает задачу.
type ResultResolver struct {
	httpClient *http.Client
	uploader   interfaces.Uploader
	bucket     string
	logger     *zap.Logger
}

// NewResultResolver создает новый ResultResolver.
func NewResultResolver(httpClient *http.Client, uploader interfaces.Uploader, bucket string, logger *zap.Logger) *ResultResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ResultResolver{
		httpClient: httpClient,
		uploader:   uploader,
		bucket:     bucket,
		logger:     logger.Named("ResultResolver"),
	}
}

// Resolve возвращает окончательный JobResult для completed-уведомления.
func (r *ResultResolver) Resolve(ctx context.Context, job *models.Job, cb ProviderCallback) (models.JobResult, error) {
	providerURL, contentType, err := r.resultLocation(ctx, job, cb)
	if err != nil {
		return models.JobResult{}, err
	}

	log := r.logger.With(zap.String("job_id", job.ID.String()), zap.String("provider_url", providerURL))

	if r.uploader == nil {
		return models.JobResult{URL: providerURL, Type: contentType}, nil
	}

	data, err := r.download(ctx, providerURL)
	if err != nil {
		// Провайдерский URL остается рабочим fallback'ом.
		log.Warn("Failed to download result payload, falling back to provider URL", zap.Error(err))
		return models.JobResult{URL: providerURL, Type: contentType}, nil
	}

	filename := fmt.Sprintf("%s%s", job.ID.String(), extensionFor(contentType))
	storedURL, err := r.uploader.Upload(ctx, job.OwnerID.String(), r.bucket, filename, data, contentType)
	if err != nil {
		log.Warn("Failed to store result payload, falling back to provider URL", zap.Error(err))
		return models.JobResult{URL: providerURL, Type: contentType}, nil
	}

	log.Debug("Result payload stored", zap.String("stored_url", storedURL), zap.Int("size_bytes", len(data)))
	return models.JobResult{URL: storedURL, Type: contentType}, nil
}

// resultLocation извлекает URL результата из уведомления, при необходимости
// дотягиваясь за ним по response_url.
func (r *ResultResolver) resultLocation(ctx context.Context, job *models.Job, cb ProviderCallback) (string, string, error) {
	if len(cb.Images) > 0 && cb.Images[0].URL != "" {
		return cb.Images[0].URL, defaultContentType(cb.Images[0].ContentType, models.JobKindImage), nil
	}
	if cb.Video != nil && cb.Video.URL != "" {
		return cb.Video.URL, defaultContentType(cb.Video.ContentType, models.JobKindVideo), nil
	}
	if cb.ResponseURL == "" {
		return "", "", fmt.Errorf("%w: completion callback carries no result and no response_url", models.ErrInvalidInput)
	}

	// Указательная форма: провайдер отдает результат отдельным запросом.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cb.ResponseURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to build response_url request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch response_url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("response_url returned status %d", resp.StatusCode)
	}

	var pointed ProviderCallback
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResultPayloadBytes)).Decode(&pointed); err != nil {
		return "", "", fmt.Errorf("failed to decode response_url payload: %w", err)
	}

	if len(pointed.Images) > 0 && pointed.Images[0].URL != "" {
		return pointed.Images[0].URL, defaultContentType(pointed.Images[0].ContentType, models.JobKindImage), nil
	}
	if pointed.Video != nil && pointed.Video.URL != "" {
		return pointed.Video.URL, defaultContentType(pointed.Video.ContentType, models.JobKindVideo), nil
	}
	return "", "", fmt.Errorf("%w: response_url payload carries no result", models.ErrInvalidInput)
}

// download скачивает бинарный результат по URL провайдера.
func (r *ResultResolver) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("result download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read result body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("result download returned empty body")
	}
	return data, nil
}

func defaultContentType(declared string, kind models.JobKind) string {
	if declared != "" {
		return declared
	}
	if kind == models.JobKindVideo {
		return "video/mp4"
	}
	return "image/png"
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ""
	}
}
