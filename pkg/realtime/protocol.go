package realtime

import "encoding/json"

// Типы кадров протокола поверх WebSocket. Должны совпадать с серверными.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameBroadcast   = "broadcast"
	frameEvent       = "event"
	frameAck         = "ack"
	frameError       = "error"
)

// frame - один кадр протокола.
type frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event - событие, доставленное подписчику топика.
// Err заполняется только для терминального события: после него канал
// подписки закрывается и новых событий не будет.
type Event struct {
	Topic   string
	Name    string
	Payload json.RawMessage
	Err     error
}
