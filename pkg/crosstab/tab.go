package crosstab

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State - текущее состояние одного логического потока во вкладке.
type State struct {
	Value     interface{}
	UpdatedAt time.Time
}

// Config содержит конфигурацию для Tab.
type Config struct {
	// ThrottleInterval ограничивает исходящие broadcast'ы: не чаще
	// одного на поток за интервал, последнее значение досылается
	// отложенно. Нулевой интервал отключает троттлинг.
	ThrottleInterval time.Duration
	// Buffer - емкость канала принятых обновлений.
	Buffer int
}

// throttleState - состояние троттлинга одного потока.
type throttleState struct {
	lastSent time.Time
	pending  *Message
	timer    *time.Timer
}

// Tab - конечная точка одной вкладки на шине. Случайный идентификатор
// генерируется при создании; им штампуются все исходящие сообщения,
// а входящие с тем же идентификатором отбрасываются.
type Tab struct {
	id  uuid.UUID
	bus *Bus
	cfg Config

	mu       sync.Mutex
	states   map[string]State
	throttle map[string]*throttleState
	closed   bool

	updates chan Message
}

// NewTab создает вкладку и подключает ее к шине.
func NewTab(bus *Bus, cfg Config) *Tab {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	t := &Tab{
		id:       uuid.New(),
		bus:      bus,
		cfg:      cfg,
		states:   make(map[string]State),
		throttle: make(map[string]*throttleState),
		updates:  make(chan Message, cfg.Buffer),
	}
	bus.attach(t)
	return t
}

// ID возвращает идентификатор вкладки.
func (t *Tab) ID() uuid.UUID {
	return t.id
}

// Updates возвращает канал обновлений, принятых от соседних вкладок.
// Доставка best-effort: при переполнении канала обновление теряется,
// состояние вкладки при этом все равно сходится.
func (t *Tab) Updates() <-chan Message {
	return t.updates
}

// State возвращает текущее состояние потока.
func (t *Tab) State(stream string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[stream]
	return s, ok
}

// Publish применяет локальное изменение состояния и рассылает его
// соседним вкладкам с троттлингом на каждый поток.
func (t *Tab) Publish(stream string, payload interface{}, updatedAt time.Time) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	// Локальное изменение проходит то же LWW-слияние, что и удаленное.
	if cur, ok := t.states[stream]; !ok || !updatedAt.Before(cur.UpdatedAt) {
		t.states[stream] = State{Value: payload, UpdatedAt: updatedAt}
	}

	msg := Message{Stream: stream, Payload: payload, UpdatedAt: updatedAt, SenderID: t.id}

	if t.cfg.ThrottleInterval <= 0 {
		t.mu.Unlock()
		t.bus.publish(msg)
		return
	}

	ts, ok := t.throttle[stream]
	if !ok {
		ts = &throttleState{}
		t.throttle[stream] = ts
	}

	now := time.Now()
	if elapsed := now.Sub(ts.lastSent); elapsed >= t.cfg.ThrottleInterval {
		ts.lastSent = now
		t.mu.Unlock()
		t.bus.publish(msg)
		return
	}

	// Интервал не истек: запоминаем последнее значение и досылаем его
	// по таймеру, чтобы соседи в итоге увидели финальное состояние.
	ts.pending = &msg
	if ts.timer == nil {
		remaining := t.cfg.ThrottleInterval - now.Sub(ts.lastSent)
		ts.timer = time.AfterFunc(remaining, func() { t.flush(stream) })
	}
	t.mu.Unlock()
}

// flush отправляет отложенное троттлингом сообщение потока.
func (t *Tab) flush(stream string) {
	t.mu.Lock()
	ts, ok := t.throttle[stream]
	if !ok || ts.pending == nil || t.closed {
		t.mu.Unlock()
		return
	}
	msg := *ts.pending
	ts.pending = nil
	ts.timer = nil
	ts.lastSent = time.Now()
	t.mu.Unlock()

	t.bus.publish(msg)
}

// receive обрабатывает входящее сообщение шины.
func (t *Tab) receive(msg Message) {
	// Подавление эха: свои сообщения отбрасываются.
	if msg.SenderID == t.id {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	// Last-write-wins: новее побеждает, при равенстве остается локальное.
	if cur, ok := t.states[msg.Stream]; ok && !msg.UpdatedAt.After(cur.UpdatedAt) {
		t.mu.Unlock()
		return
	}
	t.states[msg.Stream] = State{Value: msg.Payload, UpdatedAt: msg.UpdatedAt}

	// Отправка под блокировкой исключает гонку с закрытием канала в Close.
	select {
	case t.updates <- msg:
	default:
		log.Warn().Str("stream", msg.Stream).Msg("Cross-tab updates channel full, dropping message")
	}
	t.mu.Unlock()
}

// Close отключает вкладку от шины и останавливает таймеры троттлинга.
// Идемпотентен.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, ts := range t.throttle {
		if ts.timer != nil {
			ts.timer.Stop()
		}
	}
	t.mu.Unlock()

	t.bus.detach(t.id)
	close(t.updates)
}
