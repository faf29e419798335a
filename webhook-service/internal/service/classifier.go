package service

import (
	"strings"

	"canvas-server/shared/models"
)

// Структурированные коды ошибок, о которых удалось договориться с провайдерами.
// Сопоставление по коду всегда предпочтительнее сопоставления по тексту.
var errorCodeKinds = map[string]models.ErrorKind{
	"validation_error":  models.ErrorKindValidation,
	"invalid_input":     models.ErrorKindValidation,
	"content_policy":    models.ErrorKindValidation,
	"auth_error":        models.ErrorKindAPI,
	"permission_denied": models.ErrorKindAPI,
	"quota_exceeded":    models.ErrorKindAPI,
	"rate_limited":      models.ErrorKindAPI,
	"network_error":     models.ErrorKindNetwork,
	"timeout":           models.ErrorKindTimeout,
	"storage_error":     models.ErrorKindStorage,
}

// Текстовые паттерны - последний рубеж для провайдеров без стабильного
// контракта кодов. Сопоставление по подстроке хрупкое и ломается при смене
// формулировок; это осознанный best-effort.
var errorMessagePatterns = []struct {
	substrings []string
	kind       models.ErrorKind
}{
	{[]string{"validation", "invalid", "unsupported", "nsfw", "content policy", "safety"}, models.ErrorKindValidation},
	{[]string{"unauthorized", "forbidden", "api key", "quota", "rate limit", "insufficient credit", "billing"}, models.ErrorKindAPI},
	{[]string{"timeout", "timed out", "deadline exceeded"}, models.ErrorKindTimeout},
	{[]string{"connection", "network", "dns", "refused", "unreachable", "reset by peer"}, models.ErrorKindNetwork},
	{[]string{"upload", "storage", "bucket"}, models.ErrorKindStorage},
}

// ClassifyProviderError классифицирует ошибку провайдера: сначала по
// структурированному коду, затем по тексту сообщения, иначе unknown.
func ClassifyProviderError(code, message string) models.ErrorKind {
	if code != "" {
		if kind, ok := errorCodeKinds[strings.ToLower(strings.TrimSpace(code))]; ok {
			return kind
		}
	}

	lower := strings.ToLower(message)
	for _, pattern := range errorMessagePatterns {
		for _, sub := range pattern.substrings {
			if strings.Contains(lower, sub) {
				return pattern.kind
			}
		}
	}
	return models.ErrorKindUnknown
}
