package models

import (
	"encoding/json"
	"time"
)

// BroadcastMessage - транспортный конверт realtime-сообщения.
// Не персистится; доставка best-effort, at-most-once, порядок гарантируется
// только в пределах одного топика.
type BroadcastMessage struct {
	Topic     string          `json:"topic"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	SenderID  string          `json:"sender_id,omitempty"`
}

// DocumentUpdatedPayload - полезная нагрузка события document.updated.
type DocumentUpdatedPayload struct {
	DocumentID string    `json:"document_id"`
	NodeID     string    `json:"node_id"`
	State      NodeState `json:"state"`
	JobID      string    `json:"job_id,omitempty"`
}

// JobUpdatedPayload - полезная нагрузка события job.updated.
type JobUpdatedPayload struct {
	JobID  string     `json:"job_id"`
	Kind   JobKind    `json:"kind"`
	Status JobStatus  `json:"status"`
	Result *JobResult `json:"result,omitempty"`
	Error  *string    `json:"error,omitempty"`
}
