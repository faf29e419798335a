package crosstab

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message - межвкладочное сообщение. Stream идентифицирует логический
// поток состояния (например документ), UpdatedAt участвует в разрешении
// конфликтов last-write-wins, SenderID нужен для подавления эха.
type Message struct {
	Stream    string
	Payload   interface{}
	UpdatedAt time.Time
	SenderID  uuid.UUID
}

// Bus - локальный широковещательный примитив одного устройства,
// соединяющий вкладки между собой. Сетевого слоя здесь нет: доставка
// синхронная, fire-and-forget, отправитель подтверждений не ждет.
type Bus struct {
	mu   sync.RWMutex
	tabs map[uuid.UUID]*Tab
}

// NewBus создает новую шину.
func NewBus() *Bus {
	return &Bus{tabs: make(map[uuid.UUID]*Tab)}
}

func (b *Bus) attach(t *Tab) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs[t.id] = t
}

func (b *Bus) detach(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tabs, id)
}

// publish раздает сообщение всем подключенным вкладкам, включая
// отправителя: эхо отбрасывает получатель по SenderID.
func (b *Bus) publish(msg Message) {
	b.mu.RLock()
	tabs := make([]*Tab, 0, len(b.tabs))
	for _, t := range b.tabs {
		tabs = append(tabs, t)
	}
	b.mu.RUnlock()

	for _, t := range tabs {
		t.receive(msg)
	}
}
