package ws

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
	"github.com/ommvpatel/Real-Time-Taskboard/fanout"
	"github.com/ommvpatel/Real-Time-Taskboard/protocol"
	"github.com/ommvpatel/Real-Time-Taskboard/registry"
)

// Handler upgrades HTTP requests to WebSocket sessions.
type Handler struct {
	reg      *registry.Registry
	engine   *fanout.Engine
	store    Storage
	cache    Cache
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewHandler(reg *registry.Registry, engine *fanout.Engine, store Storage, cache Cache, logger *log.Logger) *Handler {
	return &Handler{
		reg:    reg,
		engine: engine,
		store:  store,
		cache:  cache,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve runs one connection: greet, then handle frames in arrival order
// until the transport closes. The deferred unregister makes close during an
// in-flight storage call safe; the fanout effects still fire, the originator
// just never sees the ack.
func (h *Handler) Serve(c echo.Context) error {
	sock, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := newConn(sock)
	defer func() {
		h.reg.Unregister(conn)
		conn.Close()
	}()

	hello := domain.HelloEvent{Type: domain.EventHello, OK: true, Protocol: protocol.Verbs}
	if data, err := sonic.Marshal(hello); err == nil {
		if err := conn.Send(data); err != nil {
			return nil
		}
	}

	sess := newSession(conn, h.reg, h.engine, h.store, h.cache, h.logger)
	ctx := c.Request().Context()
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WithError(err).WithField("conn", conn.ID()).Debug("read loop ended")
			}
			return nil
		}
		sess.Handle(ctx, data)
	}
}
