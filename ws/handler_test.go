package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
	"github.com/ommvpatel/Real-Time-Taskboard/fanout"
	"github.com/ommvpatel/Real-Time-Taskboard/registry"
)

func startServer(t *testing.T, fx *fixture) *httptest.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	engine := fanout.New("test-instance", fx.reg, nil, "chan")
	h := NewHandler(fx.reg, engine, fx.store, fx.cache, logger)
	e := echo.New()
	e.GET("/ws", h.Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { sock.Close() })
	return sock
}

func readEvent(t *testing.T, sock *websocket.Conn) map[string]any {
	t.Helper()
	sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return m
}

func writeFrame(t *testing.T, sock *websocket.Conn, frame string) {
	t.Helper()
	if err := sock.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServeGreetsWithHello(t *testing.T) {
	fx := newFixture()
	srv := startServer(t, fx)
	sock := dial(t, srv)

	hello := readEvent(t, sock)
	if hello["type"] != domain.EventHello || hello["ok"] != true {
		t.Fatalf("unexpected greeting %v", hello)
	}
	verbs := hello["protocol"].([]any)
	if len(verbs) != 4 || verbs[0] != "join" {
		t.Fatalf("unexpected protocol list %v", verbs)
	}
}

func TestServeJoinCreateRoundTrip(t *testing.T) {
	fx := newFixture()
	srv := startServer(t, fx)

	a := dial(t, srv)
	b := dial(t, srv)
	readEvent(t, a) // hello
	readEvent(t, b)

	writeFrame(t, a, `{"type":"join","boardId":"alpha"}`)
	writeFrame(t, b, `{"type":"join","boardId":"alpha"}`)
	readEvent(t, a) // snapshot
	readEvent(t, b)

	writeFrame(t, a, `{"type":"create","boardId":"alpha","task":{"id":"t1","title":"shared"}}`)

	ack := readEvent(t, a)
	if ack["type"] != domain.EventCreated {
		t.Fatalf("unexpected ack %v", ack)
	}
	evt := readEvent(t, b)
	if evt["type"] != domain.EventCreated || evt["task"].(map[string]any)["id"] != "t1" {
		t.Fatalf("peer missing broadcast %v", evt)
	}
}

func TestServeClosePrunesRegistry(t *testing.T) {
	fx := newFixture()
	srv := startServer(t, fx)

	sock := dial(t, srv)
	readEvent(t, sock)
	writeFrame(t, sock, `{"type":"join","boardId":"alpha"}`)
	readEvent(t, sock)

	waitFor(t, func() bool { return len(fx.reg.ConnectionsOf("alpha")) == 1 })
	sock.Close()
	waitFor(t, func() bool { return len(fx.reg.ConnectionsOf("alpha")) == 0 })
}

func TestRunHeartbeatPingsConnections(t *testing.T) {
	reg := registry.New()
	conn := &pingCounter{fakeConn: fakeConn{id: "a"}}
	reg.Register("alpha", conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunHeartbeat(ctx, reg, 10*time.Millisecond)

	waitFor(t, func() bool { return conn.pings() >= 2 })
}

type pingCounter struct {
	fakeConn
	pinged int
}

func (p *pingCounter) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinged++
	return nil
}

func (p *pingCounter) pings() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinged
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
