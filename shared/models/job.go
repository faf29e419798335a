package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobKind определяет тип генерации, запрошенной у провайдера.
type JobKind string

// Поддерживаемые типы генерации.
const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// IsValidJobKind проверяет, является ли строка допустимым JobKind.
func IsValidJobKind(k JobKind) bool {
	switch k {
	case JobKindImage, JobKindVideo:
		return true
	default:
		return false
	}
}

// JobStatus определяет статус задачи генерации.
type JobStatus string

// Возможные статусы задачи. Терминальные статусы (completed, failed)
// никогда не перезаписываются.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal возвращает true, если статус является терминальным.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobMetadata указывает, куда должен быть записан результат генерации.
// Отсутствие метаданных допустимо: задача существует только для аудита/поллинга.
type JobMetadata struct {
	DocumentID uuid.UUID `json:"document_id"`
	NodeID     string    `json:"node_id"`
}

// JobResult содержит результат успешной генерации.
type JobResult struct {
	URL  string `json:"url"`
	Type string `json:"type"` // MIME-тип результата (image/png, video/mp4, ...)
}

// Job представляет одну отслеживаемую асинхронную задачу генерации.
//
// Запись создается синхронно ДО исходящего вызова провайдера с плейсхолдером
// вместо внешнего идентификатора, чтобы закрыть гонку, когда webhook провайдера
// приходит раньше, чем локальная запись успела появиться.
type Job struct {
	ID                uuid.UUID       `json:"id" db:"id"`
	ExternalRequestID string          `json:"external_request_id" db:"external_request_id"`
	OwnerID           uuid.UUID       `json:"owner_id" db:"owner_id"`
	Kind              JobKind         `json:"kind" db:"kind"`
	Status            JobStatus       `json:"status" db:"status"`
	Input             json.RawMessage `json:"input,omitempty" db:"input"`
	Metadata          *JobMetadata    `json:"metadata,omitempty" db:"metadata"`
	Result            *JobResult      `json:"result,omitempty" db:"result"`
	Error             *string         `json:"error,omitempty" db:"error"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// localRequestIDPrefix - префикс плейсхолдера внешнего идентификатора,
// присваиваемого до того, как провайдер подтвердил прием задачи.
const localRequestIDPrefix = "local-"

// NewLocalRequestID генерирует плейсхолдер внешнего идентификатора.
func NewLocalRequestID() string {
	return localRequestIDPrefix + uuid.NewString()
}

// IsLocalRequestID возвращает true, если идентификатор является плейсхолдером,
// т.е. реальный внешний идентификатор еще не привязан.
func IsLocalRequestID(requestID string) bool {
	return strings.HasPrefix(requestID, localRequestIDPrefix)
}
