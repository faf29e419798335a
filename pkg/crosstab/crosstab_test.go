package crosstab

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTab(t *testing.T, bus *Bus, cfg Config) *Tab {
	t.Helper()
	tab := NewTab(bus, cfg)
	t.Cleanup(tab.Close)
	return tab
}

func receiveUpdate(t *testing.T, tab *Tab) Message {
	t.Helper()
	select {
	case msg := <-tab.Updates():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no cross-tab update received")
		return Message{}
	}
}

func assertNoUpdate(t *testing.T, tab *Tab) {
	t.Helper()
	select {
	case msg := <-tab.Updates():
		t.Fatalf("unexpected cross-tab update: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTab_DeliversToSiblings(t *testing.T) {
	bus := NewBus()
	sender := newTestTab(t, bus, Config{})
	receiver := newTestTab(t, bus, Config{})

	now := time.Now()
	sender.Publish("document:d1", "value-1", now)

	msg := receiveUpdate(t, receiver)
	assert.Equal(t, "document:d1", msg.Stream)
	assert.Equal(t, "value-1", msg.Payload)
	assert.Equal(t, sender.ID(), msg.SenderID)

	state, ok := receiver.State("document:d1")
	require.True(t, ok)
	assert.Equal(t, "value-1", state.Value)
}

func TestTab_SuppressesOwnEcho(t *testing.T) {
	bus := NewBus()
	sender := newTestTab(t, bus, Config{})

	sender.Publish("document:d1", "value-1", time.Now())

	assertNoUpdate(t, sender)
	// Локальное состояние при этом применено.
	state, ok := sender.State("document:d1")
	require.True(t, ok)
	assert.Equal(t, "value-1", state.Value)
}

func TestTab_LastWriteWinsRegardlessOfArrivalOrder(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	// Новее затем старее: старое отбрасывается.
	t.Run("NewerFirst", func(t *testing.T) {
		bus := NewBus()
		a := newTestTab(t, bus, Config{})
		b := newTestTab(t, bus, Config{})
		c := newTestTab(t, bus, Config{})

		a.Publish("document:d1", "newer", t2)
		b.Publish("document:d1", "older", t1)

		state, ok := c.State("document:d1")
		require.True(t, ok)
		assert.Equal(t, "newer", state.Value)
		assert.Equal(t, t2, state.UpdatedAt)
	})

	// Старее затем новее: сходимся к новому.
	t.Run("OlderFirst", func(t *testing.T) {
		bus := NewBus()
		a := newTestTab(t, bus, Config{})
		b := newTestTab(t, bus, Config{})
		c := newTestTab(t, bus, Config{})

		b.Publish("document:d1", "older", t1)
		a.Publish("document:d1", "newer", t2)

		state, ok := c.State("document:d1")
		require.True(t, ok)
		assert.Equal(t, "newer", state.Value)
	})
}

func TestTab_TieKeepsLocalState(t *testing.T) {
	bus := NewBus()
	a := newTestTab(t, bus, Config{})
	b := newTestTab(t, bus, Config{})

	ts := time.Now()
	b.Publish("document:d1", "local", ts)
	// Сообщение с тем же временем от соседа не вытесняет локальное.
	a.Publish("document:d1", "remote", ts)

	state, ok := b.State("document:d1")
	require.True(t, ok)
	assert.Equal(t, "local", state.Value)
	assertNoUpdate(t, b)
}

func TestTab_ThrottleCoalescesBurstWithTrailingFlush(t *testing.T) {
	bus := NewBus()
	sender := newTestTab(t, bus, Config{ThrottleInterval: 60 * time.Millisecond})
	receiver := newTestTab(t, bus, Config{})

	base := time.Now()
	for i := 0; i < 5; i++ {
		sender.Publish("document:d1", i, base.Add(time.Duration(i)*time.Millisecond))
	}

	// Первое сообщение уходит сразу.
	first := receiveUpdate(t, receiver)
	assert.Equal(t, 0, first.Payload)

	// Промежуточные схлопываются; отложенная досылка несет последнее значение.
	trailing := receiveUpdate(t, receiver)
	assert.Equal(t, 4, trailing.Payload)

	assertNoUpdate(t, receiver)

	state, ok := receiver.State("document:d1")
	require.True(t, ok)
	assert.Equal(t, 4, state.Value)
}

func TestTab_ThrottleIsPerStream(t *testing.T) {
	bus := NewBus()
	sender := newTestTab(t, bus, Config{ThrottleInterval: time.Minute})
	receiver := newTestTab(t, bus, Config{})

	now := time.Now()
	sender.Publish("document:d1", "a", now)
	sender.Publish("document:d2", "b", now)

	got := map[string]interface{}{}
	for i := 0; i < 2; i++ {
		msg := receiveUpdate(t, receiver)
		got[msg.Stream] = msg.Payload
	}
	assert.Equal(t, map[string]interface{}{"document:d1": "a", "document:d2": "b"}, got)
}

func TestTab_CloseDetachesFromBus(t *testing.T) {
	bus := NewBus()
	sender := NewTab(bus, Config{})
	defer sender.Close()
	receiver := NewTab(bus, Config{})

	receiver.Close()
	receiver.Close() // идемпотентно

	sender.Publish("document:d1", "value", time.Now())

	_, open := <-receiver.Updates()
	assert.False(t, open)
	_, ok := receiver.State("document:d1")
	assert.False(t, ok)
}

func TestTab_UniqueIdentifiers(t *testing.T) {
	bus := NewBus()
	a := newTestTab(t, bus, Config{})
	b := newTestTab(t, bus, Config{})

	assert.NotEqual(t, uuid.Nil, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
