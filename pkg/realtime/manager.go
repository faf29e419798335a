package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ошибки клиента realtime-канала.
var (
	// ErrClosed возвращается после Close().
	ErrClosed = errors.New("realtime: manager closed")
	// ErrNotConnected возвращается, когда операция требует живого соединения.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrReconnectFailed доставляется подписчикам терминальным событием,
	// когда попытки переподключения исчерпаны.
	ErrReconnectFailed = errors.New("realtime: reconnect attempts exhausted")
	// ErrSubscriptionDenied доставляется подписчикам топика, на который
	// сервер отказал в подписке.
	ErrSubscriptionDenied = errors.New("realtime: subscription denied")
)

// TokenProvider возвращает свежий access-токен для рукопожатия.
// Вызывается при каждой (пере)установке соединения.
type TokenProvider func(ctx context.Context) (string, error)

// Config - настройки менеджера realtime-соединения.
type Config struct {
	URL    string
	Token  TokenProvider
	Dialer Dialer
	Logger zerolog.Logger

	// Параметры экспоненциального backoff переподключения.
	BaseDelay   time.Duration // по умолчанию 500ms
	MaxDelay    time.Duration // по умолчанию 30s
	MaxAttempts int           // по умолчанию 10

	// Емкость канала событий одной подписки.
	Buffer int // по умолчанию 64
}

// Subscription - одна подписка на топик. События читаются из C; после
// терминального события (Event.Err != nil) или Close() канал закрывается.
type Subscription struct {
	C <-chan Event

	id      uint64
	topic   string
	manager *Manager
	ch      chan Event

	chMu     sync.Mutex // защищает ch от send-after-close
	chClosed bool
}

// Close снимает подписку. Идемпотентна; безопасна в любой момент,
// в том числе пока подписка еще устанавливается.
func (s *Subscription) Close() {
	s.manager.removeSubscription(s)
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	if s.chClosed {
		return
	}
	s.chClosed = true
	close(s.ch)
}

// trySend доставляет событие, не блокируясь на переполненном канале.
func (s *Subscription) trySend(ev Event) bool {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	if s.chClosed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Manager держит одно физическое WebSocket соединение и мультиплексирует
// по нему подписки на топики. Создается явно и передается зависимостью.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	conn       Conn
	connecting chan struct{} // не-nil, пока соединение устанавливается
	subs       map[string]map[uint64]*Subscription
	nextSubID  uint64
	closed     bool
	terminal   bool

	done chan struct{}
}

// NewManager создает новый Manager. Соединение устанавливается лениво
// при первой подписке.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: URL is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("realtime: token provider is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	cfg.Logger = cfg.Logger.With().Str("component", "RealtimeManager").Logger()

	return &Manager{
		cfg:  cfg,
		subs: make(map[string]map[uint64]*Subscription),
		done: make(chan struct{}),
	}, nil
}

// Subscribe подписывается на топик. Несколько подписок на один топик
// делят одно серверное подтверждение; каждая получает свой канал событий.
func (m *Manager) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextSubID++
	sub := &Subscription{
		id:      m.nextSubID,
		topic:   topic,
		manager: m,
		ch:      make(chan Event, m.cfg.Buffer),
	}
	sub.C = sub.ch

	first := len(m.subs[topic]) == 0
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[uint64]*Subscription)
	}
	m.subs[topic][sub.id] = sub
	conn := m.conn
	m.mu.Unlock()

	// Серверная подписка оформляется один раз на топик.
	if first && conn != nil {
		if err := m.writeFrame(conn, frame{Type: frameSubscribe, Topic: topic}); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("topic", topic).Msg("Failed to send subscribe frame")
		}
	}
	return sub, nil
}

// Broadcast отправляет клиентское сообщение подписчикам топика.
// Отклоняется без живого соединения: локальная очередь не ведется.
func (m *Manager) Broadcast(ctx context.Context, topic, event string, payload json.RawMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	return m.writeFrame(conn, frame{Type: frameBroadcast, Topic: topic, Event: event, Payload: payload})
}

// Connected сообщает, есть ли живое соединение.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Close закрывает соединение и все подписки. Таймеры переподключения
// останавливаются.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	subs := m.collectAllLocked()
	m.subs = make(map[string]map[uint64]*Subscription)
	m.mu.Unlock()

	close(m.done)
	if conn != nil {
		_ = conn.Close()
	}
	for _, sub := range subs {
		sub.closeChan()
	}
	return nil
}

// ensureConnected устанавливает соединение, если его еще нет.
// Параллельные вызовы ждут одну общую попытку.
func (m *Manager) ensureConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.terminal {
			m.mu.Unlock()
			return ErrReconnectFailed
		}
		if m.conn != nil {
			m.mu.Unlock()
			return nil
		}
		if m.connecting != nil {
			waitCh := m.connecting
			m.mu.Unlock()
			select {
			case <-waitCh:
				continue // соединение установлено или попытка провалилась
			case <-ctx.Done():
				return ctx.Err()
			case <-m.done:
				return ErrClosed
			}
		}
		m.connecting = make(chan struct{})
		m.mu.Unlock()
		break
	}

	err := m.connect(ctx)

	m.mu.Lock()
	close(m.connecting)
	m.connecting = nil
	m.mu.Unlock()
	return err
}

// connect выполняет одну попытку установки соединения.
func (m *Manager) connect(ctx context.Context) error {
	token, err := m.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("realtime: token provider failed: %w", err)
	}
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL, token)
	if err != nil {
		return fmt.Errorf("realtime: dial failed: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	m.conn = conn
	m.mu.Unlock()

	m.cfg.Logger.Info().Msg("Connected")
	go m.readLoop(conn)
	return nil
}

// readLoop читает кадры соединения и раздает события подпискам.
func (m *Manager) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			m.cfg.Logger.Warn().Err(err).Msg("Malformed frame from server, ignoring")
			continue
		}
		m.dispatch(f)
	}
}

// dispatch обрабатывает один кадр от сервера.
func (m *Manager) dispatch(f frame) {
	switch f.Type {
	case frameEvent:
		m.deliver(f.Topic, Event{Topic: f.Topic, Name: f.Event, Payload: f.Payload})
	case frameError:
		if f.Topic == "" {
			m.cfg.Logger.Warn().Str("error", f.Error).Msg("Server error")
			return
		}
		// Отказ в подписке терминален для всех подписок топика.
		m.cfg.Logger.Warn().Str("topic", f.Topic).Str("error", f.Error).Msg("Topic error")
		m.terminateTopic(f.Topic, fmt.Errorf("%w: %s", ErrSubscriptionDenied, f.Error))
	case frameAck:
		m.cfg.Logger.Debug().Str("topic", f.Topic).Msg("Ack received")
	default:
		m.cfg.Logger.Warn().Str("type", f.Type).Msg("Unknown frame type from server")
	}
}

// deliver раздает событие подпискам топика. Доставка best-effort:
// переполненная подписка пропускает событие.
func (m *Manager) deliver(topic string, event Event) {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs[topic]))
	for _, sub := range m.subs[topic] {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		if !sub.trySend(event) {
			m.cfg.Logger.Warn().Str("topic", topic).Msg("Subscription buffer full, dropping event")
		}
	}
}

// terminateTopic доставляет терминальную ошибку всем подпискам топика
// и закрывает их.
func (m *Manager) terminateTopic(topic string, err error) {
	m.mu.Lock()
	subs := m.subs[topic]
	delete(m.subs, topic)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.trySend(Event{Topic: topic, Err: err})
		sub.closeChan()
	}
}

// handleDisconnect реагирует на разрыв соединения.
func (m *Manager) handleDisconnect(conn Conn, cause error) {
	m.mu.Lock()
	if m.closed || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()
	_ = conn.Close()

	m.cfg.Logger.Warn().Err(cause).Msg("Connection lost, reconnecting")
	go m.reconnectLoop()
}

// reconnectLoop пытается восстановить соединение с экспоненциальным
// backoff. После исчерпания попыток все подписки получают терминальную
// ошибку ErrReconnectFailed.
func (m *Manager) reconnectLoop() {
	delay := m.cfg.BaseDelay
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-time.After(delay):
		case <-m.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := m.ensureConnected(ctx)
		cancel()
		if err == nil {
			m.resubscribeAll()
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		m.cfg.Logger.Warn().Err(err).Int("attempt", attempt).Dur("nextDelay", delay).
			Msg("Reconnect attempt failed")

		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}

	m.cfg.Logger.Error().Int("attempts", m.cfg.MaxAttempts).Msg("Reconnect attempts exhausted")
	m.terminateAll(ErrReconnectFailed)
}

// resubscribeAll восстанавливает серверные подписки после переподключения.
func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	conn := m.conn
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	for _, topic := range topics {
		if err := m.writeFrame(conn, frame{Type: frameSubscribe, Topic: topic}); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("topic", topic).Msg("Failed to resubscribe")
			return
		}
	}
	m.cfg.Logger.Info().Int("topics", len(topics)).Msg("Resubscribed after reconnect")
}

// terminateAll доставляет терминальную ошибку всем подпискам.
func (m *Manager) terminateAll(err error) {
	m.mu.Lock()
	m.terminal = true
	subs := m.collectAllLocked()
	m.subs = make(map[string]map[uint64]*Subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.trySend(Event{Topic: sub.topic, Err: err})
		sub.closeChan()
	}
}

// removeSubscription снимает одну подписку; последняя подписка топика
// снимает и серверную.
func (m *Manager) removeSubscription(sub *Subscription) {
	m.mu.Lock()
	topicSubs, ok := m.subs[sub.topic]
	if ok {
		delete(topicSubs, sub.id)
		if len(topicSubs) == 0 {
			delete(m.subs, sub.topic)
		}
	}
	last := ok && len(topicSubs) == 0
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil {
		if err := m.writeFrame(conn, frame{Type: frameUnsubscribe, Topic: sub.topic}); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("topic", sub.topic).Msg("Failed to send unsubscribe frame")
		}
	}
}

// collectAllLocked собирает все подписки; вызывается под mu.
func (m *Manager) collectAllLocked() []*Subscription {
	var all []*Subscription
	for _, topicSubs := range m.subs {
		for _, sub := range topicSubs {
			all = append(all, sub)
		}
	}
	return all
}

// writeFrame сериализует и отправляет кадр.
func (m *Manager) writeFrame(conn Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(data)
}
