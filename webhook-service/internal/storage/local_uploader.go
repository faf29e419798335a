package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"canvas-server/shared/interfaces"

	"go.uber.org/zap"
)

// LocalUploader сохраняет результаты генерации на локальный диск и отдает
// публичный URL, по которому их раздает статический файловый сервер.
// В production место этой реализации занимает S3-совместимое хранилище,
// контракт interfaces.Uploader одинаков для обеих.
type LocalUploader struct {
	baseDir string
	baseURL string
	logger  *zap.Logger
}

var _ interfaces.Uploader = (*LocalUploader)(nil)

// NewLocalUploader создает новый LocalUploader.
func NewLocalUploader(baseDir, baseURL string, logger *zap.Logger) (*LocalUploader, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload base dir: %w", err)
	}
	return &LocalUploader{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("LocalUploader"),
	}, nil
}

// Upload записывает файл в <baseDir>/<bucket>/<ownerID>/<filename> и
// возвращает публичный URL. Перезапись существующего файла допустима:
// имя файла детерминировано по идентификатору задачи.
func (u *LocalUploader) Upload(ctx context.Context, ownerID, bucket, filename string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if filename == "" || strings.Contains(filename, "/") || strings.Contains(filename, "..") {
		return "", fmt.Errorf("invalid upload filename %q", filename)
	}

	dir := filepath.Join(u.baseDir, bucket, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	publicURL := fmt.Sprintf("%s/%s/%s/%s",
		u.baseURL, url.PathEscape(bucket), url.PathEscape(ownerID), url.PathEscape(filename))

	u.logger.Debug("Stored upload",
		zap.String("path", path),
		zap.String("content_type", contentType),
		zap.Int("size_bytes", len(data)))
	return publicURL, nil
}
