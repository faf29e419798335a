package messaging

import (
	"encoding/json"
	"fmt"

	"canvas-server/realtime-service/internal/handler"
	"canvas-server/realtime-service/internal/hub"
	"canvas-server/shared/messaging"
	"canvas-server/shared/models"

	"github.com/rs/zerolog"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer получает broadcast-сообщения из fanout exchange и раздает их
// подписчикам топиков через Hub. У каждого экземпляра сервиса своя
// эксклюзивная очередь, поэтому каждое сообщение доходит до всех экземпляров.
type Consumer struct {
	conn        *amqp.Connection
	hub         *hub.Hub
	queueName   string
	stopChannel chan struct{}
	logger      zerolog.Logger
}

// NewConsumer создает нового консьюмера RabbitMQ.
func NewConsumer(conn *amqp.Connection, h *hub.Hub, instanceID string, logger zerolog.Logger) (*Consumer, error) {
	return &Consumer{
		conn:        conn,
		hub:         h,
		queueName:   messaging.RealtimeUpdatesQueuePrefix + instanceID,
		stopChannel: make(chan struct{}),
		logger:      logger.With().Str("component", "Consumer").Logger(),
	}, nil
}

// StartConsuming начинает прослушивание exchange.
// Функция блокирующая, запускать в отдельной горутине.
func (c *Consumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("не удалось открыть канал RabbitMQ: %w", err)
	}
	defer ch.Close()

	// Объявляем exchange с теми же параметрами, что и издатели.
	if err := ch.ExchangeDeclare(
		messaging.RealtimeUpdatesExchangeName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("не удалось объявить exchange: %w", err)
	}

	// Эксклюзивная очередь экземпляра: умирает вместе с соединением.
	q, err := ch.QueueDeclare(
		c.queueName,
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("не удалось объявить очередь '%s': %w", c.queueName, err)
	}

	if err := ch.QueueBind(q.Name, "", messaging.RealtimeUpdatesExchangeName, false, nil); err != nil {
		return fmt.Errorf("не удалось привязать очередь к exchange: %w", err)
	}

	// QoS (prefetch count = 1), обрабатываем по одному сообщению за раз.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("не удалось установить QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"realtime-service-consumer", // consumer tag
		false,                       // auto-ack
		false,                       // exclusive
		false,                       // no-local
		false,                       // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("не удалось зарегистрировать консьюмера: %w", err)
	}

	c.logger.Info().Str("queue", q.Name).Msg("Consumer started, waiting for broadcasts")

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("RabbitMQ message channel closed")
				return nil
			}
			c.handleDelivery(d)

		case <-c.stopChannel:
			c.logger.Info().Msg("Consumer stop signal received")
			return nil
		}
	}
}

// handleDelivery раздает одно сообщение подписчикам топика.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	var msg models.BroadcastMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Error().Err(err).Msg("Failed to unmarshal broadcast message, dropping")
		_ = d.Nack(false, false)
		return
	}
	if msg.Topic == "" {
		c.logger.Warn().Msg("Broadcast message without topic, dropping")
		_ = d.Nack(false, false)
		return
	}

	frame, err := json.Marshal(handler.Frame{
		Type:    handler.FrameEvent,
		Topic:   msg.Topic,
		Event:   msg.Event,
		Payload: msg.Payload,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to marshal event frame")
		_ = d.Nack(false, false)
		return
	}

	// Отправитель клиентского broadcast исключается по sender_id (эхо).
	delivered := c.hub.Broadcast(msg.Topic, frame, msg.SenderID)
	c.logger.Debug().Str("topic", msg.Topic).Str("event", msg.Event).
		Int("delivered", delivered).Msg("Broadcast delivered")
	_ = d.Ack(false)
}

// Stop останавливает консьюмер.
func (c *Consumer) Stop() {
	close(c.stopChannel)
}
