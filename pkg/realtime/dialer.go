package realtime

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn - минимальный контракт WebSocket соединения, нужный менеджеру.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer устанавливает соединение с realtime-сервером.
// Абстракция позволяет подставить фальшивый транспорт в тестах.
type Dialer interface {
	Dial(ctx context.Context, serverURL, token string) (Conn, error)
}

// wsConn оборачивает gorilla-соединение в контракт Conn.
type wsConn struct {
	conn *websocket.Conn

	// gorilla допускает не более одного конкурентного писателя, а кадры
	// шлют сразу несколько горутин менеджера. Запись сериализуется здесь.
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebsocketDialer - боевой Dialer на gorilla/websocket.
type WebsocketDialer struct{}

// Dial устанавливает соединение, передавая токен query-параметром.
func (WebsocketDialer) Dial(ctx context.Context, serverURL, token string) (Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	// Pong-и продлевают дедлайн чтения; сервер пингует сам.
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	return &wsConn{conn: conn}, nil
}
