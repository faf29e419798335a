package service

import (
	"strings"

	"canvas-server/shared/models"
)

// ProviderCallback - входящее уведомление провайдера о завершении или
// провале задачи генерации, ключ - external request id.
type ProviderCallback struct {
	RequestID   string           `json:"request_id"`
	Status      string           `json:"status"`
	Images      []CallbackImage  `json:"images,omitempty"`
	Video       *CallbackVideo   `json:"video,omitempty"`
	ResponseURL string           `json:"response_url,omitempty"`
	Error       *CallbackError   `json:"error,omitempty"`
}

// CallbackImage - одно сгенерированное изображение в теле уведомления.
type CallbackImage struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// CallbackVideo - сгенерированное видео в теле уведомления.
type CallbackVideo struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// CallbackError - описание ошибки провайдера. Code опционален: не все
// провайдеры дают стабильный контракт кодов.
type CallbackError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// MapProviderStatus приводит словарь статусов провайдера к внутреннему.
// Возвращает пустой статус для неизвестных значений.
func MapProviderStatus(providerStatus string) models.JobStatus {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "ok", "success", "succeeded", "completed", "done":
		return models.JobStatusCompleted
	case "error", "failed", "failure", "cancelled", "canceled":
		return models.JobStatusFailed
	default:
		return ""
	}
}

// ErrorMessage возвращает текст ошибки уведомления или пустую строку.
func (c ProviderCallback) ErrorMessage() string {
	if c.Error == nil {
		return ""
	}
	return c.Error.Message
}

// ErrorCode возвращает структурированный код ошибки или пустую строку.
func (c ProviderCallback) ErrorCode() string {
	if c.Error == nil {
		return ""
	}
	return c.Error.Code
}
