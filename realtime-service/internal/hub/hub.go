package hub

import (
	"sync"

	"github.com/rs/zerolog"
)

// sendBufferSize - емкость очереди исходящих сообщений одного соединения.
const sendBufferSize = 256

// Client представляет собой одно WebSocket соединение с его подписками.
type Client struct {
	// ConnID - уникальный идентификатор соединения. Один пользователь может
	// держать несколько соединений (несколько вкладок).
	ConnID string
	UserID string

	send   chan []byte
	topics map[string]struct{}
}

// Send возвращает канал исходящих сообщений клиента. Канал закрывается
// хабом при дерегистрации.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// Hub управляет активными соединениями и их подписками на топики.
// Создается на сервис и передается зависимостью; глобального экземпляра нет.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID -> клиент
	topics  map[string]map[string]*Client // топик -> connID -> клиент

	logger zerolog.Logger
}

// NewHub создает новый Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		logger:  logger.With().Str("component", "Hub").Logger(),
	}
}

// Register регистрирует новое соединение и возвращает клиента.
func (h *Hub) Register(connID, userID string) *Client {
	client := &Client{
		ConnID: connID,
		UserID: userID,
		send:   make(chan []byte, sendBufferSize),
		topics: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[connID] = client
	h.mu.Unlock()

	h.logger.Info().Str("connID", connID).Str("userID", userID).Msg("Client registered")
	return client
}

// Unregister удаляет соединение и все его подписки. Идемпотентна.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	for topic := range client.topics {
		h.removeFromTopicLocked(topic, connID)
	}
	h.mu.Unlock()

	close(client.send)
	h.logger.Info().Str("connID", connID).Msg("Client unregistered")
}

// Subscribe подписывает соединение на топик. Повторная подписка - no-op.
func (h *Hub) Subscribe(connID, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	if _, already := client.topics[topic]; already {
		return true
	}
	client.topics[topic] = struct{}{}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]*Client)
	}
	h.topics[topic][connID] = client
	h.logger.Debug().Str("connID", connID).Str("topic", topic).Msg("Subscribed")
	return true
}

// Unsubscribe снимает подписку соединения с топика. Идемпотентна:
// отписка от топика, на который нет подписки, безопасна.
func (h *Hub) Unsubscribe(connID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(client.topics, topic)
	h.removeFromTopicLocked(topic, connID)
}

// Broadcast рассылает сообщение всем подписчикам топика, кроме соединения
// excludeConnID (подавление эха отправителю). Доставка best-effort:
// подписчик с переполненной очередью пропускается, сообщение для него
// теряется. Возвращает число подписчиков, получивших сообщение.
func (h *Hub) Broadcast(topic string, message []byte, excludeConnID string) int {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.topics[topic]))
	for connID, client := range h.topics[topic] {
		if connID == excludeConnID {
			continue
		}
		subscribers = append(subscribers, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range subscribers {
		select {
		case client.send <- message:
			delivered++
		default:
			// Очередь переполнена: клиент читает слишком медленно.
			h.logger.Warn().Str("connID", client.ConnID).Str("topic", topic).
				Msg("Send queue full, dropping message")
		}
	}
	return delivered
}

// Send ставит сообщение в очередь конкретного соединения.
// Возвращает false, если соединение не найдено или его очередь переполнена.
func (h *Hub) Send(connID string, message []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		h.logger.Warn().Str("connID", connID).Msg("Send queue full, dropping direct message")
		return false
	}
}

// Topics возвращает топики, на которые подписано соединение.
func (h *Hub) Topics(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return nil
	}
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	return topics
}

// SubscriberCount возвращает число подписчиков топика.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ClientCount возвращает число активных соединений.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeFromTopicLocked(topic, connID string) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}
