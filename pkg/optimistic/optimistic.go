package optimistic

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Ошибки менеджера оптимистичных обновлений.
var (
	ErrNotFound = errors.New("optimistic: update not found")
)

// Status представляет состояние спекулятивного обновления.
type Status string

// Возможные состояния обновлений.
const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Update представляет одно спекулятивное изменение: значение, которое
// нужно восстановить при откате, и отметки времени для очистки.
type Update struct {
	ID            string
	PreviousValue interface{}
	Status        Status
	CreatedAt     time.Time
	ConfirmedAt   time.Time
}

// Config содержит конфигурацию для Manager.
type Config struct {
	// MaxAge ограничивает жизнь неподтвержденного обновления: если
	// серверный ответ так и не пришел, запись удаляется без подтверждения.
	MaxAge time.Duration
	// GracePeriod - сколько подтвержденная запись остается доступной
	// для инспекции перед удалением.
	GracePeriod time.Duration
	// PruneInterval - период фоновой очистки.
	PruneInterval time.Duration
}

// Manager отслеживает спекулятивные изменения локального состояния до
// серверного подтверждения. Чисто локальная структура одного процесса:
// ни сети, ни межвкладочного взаимодействия она не знает.
type Manager struct {
	mu      sync.Mutex
	updates map[string]*Update

	maxAge      time.Duration
	gracePeriod time.Duration

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New создает новый Manager и запускает фоновую очистку.
func New(cfg Config) *Manager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Minute
	}

	m := &Manager{
		updates:     make(map[string]*Update),
		maxAge:      cfg.MaxAge,
		gracePeriod: cfg.GracePeriod,
		closing:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.pruneLoop(cfg.PruneInterval)
	return m
}

// Add записывает спекулятивное изменение. Повторный Add с тем же ID
// сохраняет исходное PreviousValue: цепочка правок поверх одного
// неподтвержденного изменения откатывается к настоящему до-состоянию.
func (m *Manager) Add(id string, previousValue interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.updates[id]; ok && existing.Status == StatusPending {
		return
	}
	m.updates[id] = &Update{
		ID:            id,
		PreviousValue: previousValue,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}
}

// Confirm помечает обновление подтвержденным. Запись остается доступной
// в течение GracePeriod, затем удаляется фоновой очисткой.
func (m *Manager) Confirm(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	update, ok := m.updates[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	update.Status = StatusConfirmed
	update.ConfirmedAt = time.Now()
	return nil
}

// Rollback удаляет обновление и возвращает значение, которое вызывающий
// должен восстановить.
func (m *Manager) Rollback(id string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	update, ok := m.updates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.updates, id)
	return update.PreviousValue, nil
}

// Get возвращает обновление по ID.
func (m *Manager) Get(id string) (*Update, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	update, ok := m.updates[id]
	if !ok {
		return nil, false
	}
	copied := *update
	return &copied, true
}

// Pending сообщает, есть ли неподтвержденное обновление с данным ID.
func (m *Manager) Pending(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	update, ok := m.updates[id]
	return ok && update.Status == StatusPending
}

// Len возвращает количество отслеживаемых обновлений.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

// Close останавливает фоновую очистку.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closing) })
	m.wg.Wait()
}

// pruneLoop периодически удаляет устаревшие записи.
func (m *Manager) pruneLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			m.Prune(now)
		case <-m.closing:
			return
		}
	}
}

// Prune удаляет подтвержденные записи старше GracePeriod и любые записи
// старше MaxAge (серверный ответ мог не прийти вовсе).
func (m *Manager) Prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, update := range m.updates {
		expired := now.Sub(update.CreatedAt) > m.maxAge
		settled := update.Status == StatusConfirmed && now.Sub(update.ConfirmedAt) > m.gracePeriod
		if expired || settled {
			delete(m.updates, id)
			if expired && update.Status == StatusPending {
				log.Debug().Str("updateID", id).Msg("Unconfirmed optimistic update expired")
			}
		}
	}
}
