package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeControlTimeout = 5 * time.Second

// conn wraps a gorilla websocket connection behind the registry's Conn
// interface. The mutex serializes writes; gorilla allows one writer at a
// time while the read loop runs elsewhere.
type conn struct {
	id   string
	sock *websocket.Conn

	mu sync.Mutex
}

func newConn(sock *websocket.Conn) *conn {
	return &conn{id: uuid.NewString(), sock: sock}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeControlTimeout))
}

func (c *conn) Close() error {
	return c.sock.Close()
}
