package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeStatus определяет статус генерации для узла документа.
type NodeStatus string

// Возможные статусы узла.
const (
	NodeStatusIdle  NodeStatus = "idle"
	NodeStatusReady NodeStatus = "ready"
	NodeStatusError NodeStatus = "error"
)

// ErrorKind классифицирует ошибку генерации для узла.
type ErrorKind string

// Таксономия ошибок генерации.
const (
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindAPI             ErrorKind = "api"
	ErrorKindNetwork         ErrorKind = "network"
	ErrorKindStorage         ErrorKind = "storage"
	ErrorKindTimeout         ErrorKind = "timeout"
	ErrorKindNodeDeleted     ErrorKind = "node_deleted"
	ErrorKindDocumentDeleted ErrorKind = "document_deleted"
	ErrorKindUnknown         ErrorKind = "unknown"
)

// Retryable возвращает true, если повтор генерации имеет смысл для этого типа ошибки.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrorKindAPI, ErrorKindNetwork, ErrorKindTimeout, ErrorKindStorage:
		return true
	default:
		return false
	}
}

// Suppressed возвращает true, если ошибка не должна показываться пользователю.
// Удаление узла или документа во время генерации - ожидаемая ситуация, а не сбой.
func (k ErrorKind) Suppressed() bool {
	return k == ErrorKindNodeDeleted || k == ErrorKindDocumentDeleted
}

// NodeState - состояние генерации одного узла документа. Это единственный
// контракт, который потребляет рендерер канваса: размеченное объединение
// {idle} | {ready, url, type, generatedAt} | {error, message, kind, canRetry, failedAt}.
type NodeState struct {
	Status NodeStatus `json:"status"`

	// Заполняются только при Status == ready.
	URL         string     `json:"url,omitempty"`
	Type        string     `json:"type,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`

	// Заполняются только при Status == error.
	Message  string     `json:"message,omitempty"`
	Kind     ErrorKind  `json:"kind,omitempty"`
	CanRetry bool       `json:"canRetry,omitempty"`
	FailedAt *time.Time `json:"failedAt,omitempty"`
}

// ReadyNodeState создает состояние успешно сгенерированного узла.
func ReadyNodeState(url, contentType string, generatedAt time.Time) NodeState {
	return NodeState{
		Status:      NodeStatusReady,
		URL:         url,
		Type:        contentType,
		GeneratedAt: &generatedAt,
	}
}

// ErrorNodeState создает состояние узла с ошибкой генерации.
func ErrorNodeState(message string, kind ErrorKind, failedAt time.Time) NodeState {
	return NodeState{
		Status:   NodeStatusError,
		Message:  message,
		Kind:     kind,
		CanRetry: kind.Retryable(),
		FailedAt: &failedAt,
	}
}

// StateTimestamp возвращает момент последнего терминального перехода состояния.
// Используется для last-write-wins: более старое обновление никогда не должно
// затирать более новое (сравнение по времени, а не по идентичности задачи).
func (s NodeState) StateTimestamp() time.Time {
	switch s.Status {
	case NodeStatusReady:
		if s.GeneratedAt != nil {
			return *s.GeneratedAt
		}
	case NodeStatusError:
		if s.FailedAt != nil {
			return *s.FailedAt
		}
	}
	return time.Time{}
}

// DocumentNode - строка нормализованной таблицы состояний узлов,
// ключ (document_id, node_id) с собственной меткой времени строки.
type DocumentNode struct {
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	NodeID     string    `json:"node_id" db:"node_id"`
	State      NodeState `json:"state" db:"state"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Document - документ-канвас, владеющий узлами генерации. Само содержимое
// канваса (слои, позиции, стили) для этой подсистемы непрозрачно.
type Document struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
