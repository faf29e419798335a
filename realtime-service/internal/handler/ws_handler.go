package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"canvas-server/realtime-service/internal/hub"
	"canvas-server/realtime-service/internal/service"
	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Максимальный размер кадра, разрешенный от клиента.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: ограничить Origin списком фронтенд-доменов из конфига
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Типы кадров клиент-серверного протокола.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameBroadcast   = "broadcast"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"
)

// Frame - один кадр протокола поверх WebSocket.
type Frame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WebSocketHandler обрабатывает запросы на установку WebSocket соединения.
type WebSocketHandler struct {
	hub         *hub.Hub
	authService *service.AuthService
	publisher   interfaces.RealtimePublisher
	logger      zerolog.Logger
}

// NewWebSocketHandler создает новый обработчик WebSocket.
func NewWebSocketHandler(h *hub.Hub, authService *service.AuthService, publisher interfaces.RealtimePublisher, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         h,
		authService: authService,
		publisher:   publisher,
		logger:      logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

// ServeWS обрабатывает входящий HTTP запрос для WebSocket.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Извлекаем токен из query-параметра 'token'
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn().Msg("Missing 'token' query parameter")
		http.Error(w, "Unauthorized: Missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.authService.ValidateToken(tokenString)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Invalid token")
		http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("userID", userID.String()).Msg("Failed to upgrade connection")
		return
	}

	connID := uuid.NewString()
	client := h.hub.Register(connID, userID.String())
	h.logger.Info().Str("connID", connID).Str("userID", userID.String()).Msg("WebSocket connection established")

	connLogger := h.logger.With().Str("connID", connID).Logger()
	go h.writePump(conn, client, connLogger)
	go h.readPump(conn, client, userID, connLogger)
}

// readPump откачивает кадры от WebSocket соединения и обрабатывает их.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, client *hub.Client, userID uuid.UUID, logger zerolog.Logger) {
	defer func() {
		h.hub.Unregister(client.ConnID)
		_ = conn.Close()
		logger.Info().Msg("readPump finished")
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Info().Msg("WebSocket connection closed (expected)")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.sendFrame(client, Frame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		h.handleFrame(client, userID, frame, logger)
	}
}

// handleFrame обрабатывает один кадр от клиента.
func (h *WebSocketHandler) handleFrame(client *hub.Client, userID uuid.UUID, frame Frame, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch frame.Type {
	case FrameSubscribe:
		allowed, err := h.authService.CanSubscribe(ctx, userID, frame.Topic)
		if err != nil {
			logger.Error().Err(err).Str("topic", frame.Topic).Msg("Subscription authorization failed")
			h.sendFrame(client, Frame{Type: FrameError, Topic: frame.Topic, Error: "subscription failed"})
			return
		}
		if !allowed {
			logger.Warn().Str("topic", frame.Topic).Msg("Subscription denied")
			h.sendFrame(client, Frame{Type: FrameError, Topic: frame.Topic, Error: "forbidden"})
			return
		}
		h.hub.Subscribe(client.ConnID, frame.Topic)
		h.sendFrame(client, Frame{Type: FrameAck, Topic: frame.Topic})

	case FrameUnsubscribe:
		h.hub.Unsubscribe(client.ConnID, frame.Topic)
		h.sendFrame(client, Frame{Type: FrameAck, Topic: frame.Topic})

	case FrameBroadcast:
		h.handleClientBroadcast(ctx, client, frame, logger)

	default:
		h.sendFrame(client, Frame{Type: FrameError, Error: "unknown frame type"})
	}
}

// handleClientBroadcast публикует клиентский broadcast в общий exchange.
// Кадр принимается только для топиков, на которые соединение подписано;
// доставка подписчикам (включая другие экземпляры сервиса) идет через
// консьюмер, отправитель исключается по sender_id.
func (h *WebSocketHandler) handleClientBroadcast(ctx context.Context, client *hub.Client, frame Frame, logger zerolog.Logger) {
	subscribed := false
	for _, topic := range h.hub.Topics(client.ConnID) {
		if topic == frame.Topic {
			subscribed = true
			break
		}
	}
	if !subscribed {
		h.sendFrame(client, Frame{Type: FrameError, Topic: frame.Topic, Error: "not subscribed"})
		return
	}

	msg := models.BroadcastMessage{
		Topic:     frame.Topic,
		Event:     frame.Event,
		Payload:   frame.Payload,
		Timestamp: time.Now().UTC(),
		SenderID:  client.ConnID,
	}
	if err := h.publisher.PublishBroadcast(ctx, msg); err != nil {
		logger.Error().Err(err).Str("topic", frame.Topic).Msg("Failed to publish client broadcast")
		h.sendFrame(client, Frame{Type: FrameError, Topic: frame.Topic, Error: "publish failed"})
		return
	}
	h.sendFrame(client, Frame{Type: FrameAck, Topic: frame.Topic})
}

// sendFrame ставит кадр в очередь отправки клиента.
func (h *WebSocketHandler) sendFrame(client *hub.Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.hub.Send(client.ConnID, data)
}

// writePump откачивает сообщения из очереди клиента в WebSocket соединение.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, client *hub.Client, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		logger.Info().Msg("writePump finished")
	}()
	for {
		select {
		case message, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Хаб закрыл очередь при дерегистрации.
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error().Err(err).Msg("Failed to write message")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
