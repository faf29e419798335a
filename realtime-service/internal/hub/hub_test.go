package hub

import (
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.Send():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_SubscribeAndBroadcast(t *testing.T) {
	h := newTestHub()

	a := h.Register("conn-a", "user-1")
	b := h.Register("conn-b", "user-2")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))
	require.True(t, h.Subscribe("conn-b", "document:doc-1"))

	delivered := h.Broadcast("document:doc-1", []byte("hello"), "")
	assert.Equal(t, 2, delivered)
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := newTestHub()

	a := h.Register("conn-a", "user-1")
	b := h.Register("conn-b", "user-1")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))
	require.True(t, h.Subscribe("conn-b", "document:doc-1"))

	delivered := h.Broadcast("document:doc-1", []byte("update"), "conn-a")
	assert.Equal(t, 1, delivered)
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestHub_BroadcastOnlyReachesTopic(t *testing.T) {
	h := newTestHub()

	a := h.Register("conn-a", "user-1")
	b := h.Register("conn-b", "user-2")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))
	require.True(t, h.Subscribe("conn-b", "document:doc-2"))

	h.Broadcast("document:doc-1", []byte("update"), "")
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHub_DoubleSubscribeIsNoop(t *testing.T) {
	h := newTestHub()

	a := h.Register("conn-a", "user-1")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))

	h.Broadcast("document:doc-1", []byte("once"), "")
	assert.Len(t, drain(a), 1)
	assert.Equal(t, 1, h.SubscriberCount("document:doc-1"))
}

func TestHub_UnsubscribeIdempotent(t *testing.T) {
	h := newTestHub()

	h.Register("conn-a", "user-1")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))

	h.Unsubscribe("conn-a", "document:doc-1")
	h.Unsubscribe("conn-a", "document:doc-1")
	h.Unsubscribe("conn-a", "jobs:user-1") // не было подписки

	assert.Equal(t, 0, h.SubscriberCount("document:doc-1"))
	assert.Empty(t, h.Topics("conn-a"))
}

func TestHub_UnregisterRemovesSubscriptions(t *testing.T) {
	h := newTestHub()

	h.Register("conn-a", "user-1")
	require.True(t, h.Subscribe("conn-a", "document:doc-1"))
	require.True(t, h.Subscribe("conn-a", "jobs:user-1"))

	h.Unregister("conn-a")
	h.Unregister("conn-a") // идемпотентно

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.SubscriberCount("document:doc-1"))
	assert.Equal(t, 0, h.Broadcast("jobs:user-1", []byte("late"), ""))
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := newTestHub()

	slow := h.Register("conn-slow", "user-1")
	fast := h.Register("conn-fast", "user-2")
	require.True(t, h.Subscribe("conn-slow", "document:doc-1"))
	require.True(t, h.Subscribe("conn-fast", "document:doc-1"))

	// Забиваем очередь медленного клиента до отказа.
	for i := 0; i < sendBufferSize; i++ {
		h.Broadcast("document:doc-1", []byte(fmt.Sprintf("msg-%d", i)), "conn-fast")
	}
	drain(fast)

	delivered := h.Broadcast("document:doc-1", []byte("overflow"), "")
	assert.Equal(t, 1, delivered) // только быстрый клиент
	assert.Len(t, drain(fast), 1)
	assert.Len(t, drain(slow), sendBufferSize)
}

func TestHub_ConcurrentAccess(t *testing.T) {
	h := newTestHub()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			connID := fmt.Sprintf("conn-%d", n)
			h.Register(connID, "user")
			h.Subscribe(connID, "document:doc-1")
			h.Broadcast("document:doc-1", []byte("x"), connID)
			h.Unsubscribe(connID, "document:doc-1")
			h.Unregister(connID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.SubscriberCount("document:doc-1"))
}
