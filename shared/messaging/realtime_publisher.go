package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"canvas-server/shared/models"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// RabbitMQRealtimePublisher реализует интерфейс RealtimePublisher для RabbitMQ.
type RabbitMQRealtimePublisher struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

// NewRabbitMQRealtimePublisher создает нового издателя broadcast-конвертов.
// Важно: предполагается, что соединение conn уже установлено и обработка
// ошибок/переподключений управляется внешним кодом, который передает сюда
// стабильное соединение.
func NewRabbitMQRealtimePublisher(conn *amqp091.Connection) (*RabbitMQRealtimePublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Объявляем fanout exchange. Если он уже существует, ничего не произойдет.
	// Делаем его durable, чтобы он пережил перезапуск брокера.
	err = ch.ExchangeDeclare(
		RealtimeUpdatesExchangeName, // name
		"fanout",                    // type
		true,                        // durable
		false,                       // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		_ = ch.Close() // Попытаемся закрыть канал
		log.Error().Err(err).Str("exchange", RealtimeUpdatesExchangeName).Msg("Failed to declare exchange")
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", RealtimeUpdatesExchangeName, err)
	}

	log.Info().Str("exchange", RealtimeUpdatesExchangeName).Msg("Realtime updates exchange declared successfully")

	return &RabbitMQRealtimePublisher{conn: conn, ch: ch}, nil
}

// PublishBroadcast публикует broadcast-конверт в RabbitMQ.
func (p *RabbitMQRealtimePublisher) PublishBroadcast(ctx context.Context, msg models.BroadcastMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Msg("Failed to marshal broadcast message")
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		RealtimeUpdatesExchangeName, // exchange
		"",                          // routing key (не используется для fanout)
		false,                       // mandatory
		false,                       // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   msg.Timestamp,
		},
	)

	if err != nil {
		log.Error().Err(err).Str("topic", msg.Topic).Str("event", msg.Event).Msg("Failed to publish broadcast message")
		// Здесь может быть логика retry или обработки ошибок канала/соединения
		return fmt.Errorf("failed to publish broadcast message: %w", err)
	}

	log.Debug().Str("topic", msg.Topic).Str("event", msg.Event).Msg("Broadcast message published")
	return nil
}

// Close закрывает канал RabbitMQ.
func (p *RabbitMQRealtimePublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
