package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// echoDiscardServer поднимает WebSocket-сервер, вычитывающий и
// отбрасывающий входящие кадры.
func echoDiscardServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebsocketDialer_DialPassesTokenQueryParam(t *testing.T) {
	tokens := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := WebsocketDialer{}.Dial(context.Background(), wsURL, "secret-token")
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, "secret-token", <-tokens)
}

// Кадры шлют сразу несколько горутин менеджера (Broadcast, подписки,
// переподписка после reconnect), поэтому запись в соединение должна
// быть сериализована.
func TestWebsocketDialer_ConcurrentWritesAreSerialized(t *testing.T) {
	srv := echoDiscardServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := WebsocketDialer{}.Dial(context.Background(), wsURL, "token")
	require.NoError(t, err)
	defer conn.Close()

	const writers = 16
	const framesPerWriter = 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < framesPerWriter; j++ {
				if err := conn.WriteMessage([]byte(`{"type":"broadcast","topic":"t"}`)); err != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
}
