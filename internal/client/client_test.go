package client

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/host/hosttest"
	"github.com/muurk/netbridge/internal/transport"
)

const waitTimeout = 3 * time.Second

// echoServer echoes every frame back and records the User-Agent it saw.
func echoServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	agents := make(chan string, 10)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "close-me" {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, agents
}

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	h, p, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	port, _ := strconv.Atoi(p)
	return h, port
}

func newClient(t *testing.T, bridge host.Deliverer) *Client {
	t.Helper()
	c := New(bridge, "client-object", &Config{Granularity: 10 * time.Millisecond})
	t.Cleanup(c.Disconnect)
	return c
}

func TestClient_ConnectRequestEcho(t *testing.T) {
	srv, agents := echoServer(t)
	rec, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	if err := c.Connect(hostPort(t, srv.URL)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.WaitFor(t, host.ClientConnected, 1, waitTimeout)
	if !c.Connected() {
		t.Error("Connected() = false after clientConnected")
	}
	if ua := <-agents; !strings.HasPrefix(ua, "netbridge/") {
		t.Errorf("User-Agent = %q, want netbridge/...", ua)
	}

	if err := c.Request("hello"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if err := c.RequestBinary([]byte{1, 2, 3}); err != nil {
		t.Fatalf("RequestBinary() error = %v", err)
	}

	frames := rec.WaitFor(t, host.FrameReceived, 2, waitTimeout)
	if frames[0].Args[1] != "hello" {
		t.Errorf("first frame = %#v, want hello", frames[0].Args[1])
	}
	if b, ok := frames[1].Args[1].([]byte); !ok || len(b) != 3 {
		t.Errorf("second frame = %#v, want 3 bytes", frames[1].Args[1])
	}
	if _, ok := frames[0].Args[0].(*transport.Connection); !ok {
		t.Errorf("frame connection arg = %T", frames[0].Args[0])
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	rec, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	if err := c.Connect("127.0.0.1", port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	failed := rec.WaitFor(t, host.ClientConnectFailed, 1, waitTimeout)
	if reason, ok := failed[0].Args[0].(string); !ok || reason == "" {
		t.Errorf("clientConnectFailed reason = %#v, want non-empty string", failed[0].Args[0])
	}
	if rec.Count(host.ClientConnected) != 0 {
		t.Error("clientConnected delivered for a failed connect")
	}

	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("worker did not exit after connect failure")
	}
	if err := c.Request("x"); !errors.Is(err, bridgeerr.ErrNotConnected) {
		t.Errorf("Request() error = %v, want NotConnected", err)
	}
}

func TestClient_RequestWithoutConnection(t *testing.T) {
	_, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	if err := c.Request("x"); !bridgeerr.IsNotConnected(err) {
		t.Errorf("Request() error = %v, want NotConnected", err)
	}
	if err := c.RequestBinary(nil); !bridgeerr.IsNotConnected(err) {
		t.Errorf("RequestBinary() error = %v, want NotConnected", err)
	}
	c.Disconnect() // never connected
}

func TestClient_ServerCloseEndsWorker(t *testing.T) {
	srv, _ := echoServer(t)
	rec, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	if err := c.Connect(hostPort(t, srv.URL)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.WaitFor(t, host.ClientConnected, 1, waitTimeout)

	if err := c.Request("close-me"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	rec.WaitFor(t, host.ConnectionClosed, 1, waitTimeout)

	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatal("worker did not exit after the server closed")
	}
	if c.Connected() {
		t.Error("Connected() = true after close")
	}
	if err := c.Request("late"); !bridgeerr.IsNotConnected(err) {
		t.Errorf("Request() after close error = %v, want NotConnected", err)
	}

	// The slot is free again.
	if err := c.Connect(hostPort(t, srv.URL)); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	rec.WaitFor(t, host.ClientConnected, 2, waitTimeout)
	if n := rec.Count(host.ConnectionClosed); n != 1 {
		t.Errorf("connectionClosed delivered %d times, want 1", n)
	}
}

func TestClient_DisconnectDeliversNothingAfterReturn(t *testing.T) {
	srv, _ := echoServer(t)
	rec, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	if err := c.Connect(hostPort(t, srv.URL)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.WaitFor(t, host.ClientConnected, 1, waitTimeout)

	c.Disconnect()
	after := rec.Len()
	time.Sleep(50 * time.Millisecond)

	if rec.Len() != after {
		t.Errorf("%d events delivered after Disconnect returned", rec.Len()-after)
	}
	if c.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestClient_ConnectWhileRunning(t *testing.T) {
	srv, _ := echoServer(t)
	rec, bridge := hosttest.NewBridge()
	c := newClient(t, bridge)

	h, p := hostPort(t, srv.URL)
	if err := c.Connect(h, p); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	rec.WaitFor(t, host.ClientConnected, 1, waitTimeout)

	if err := c.Connect(h, p); bridgeerr.TypeOf(err) != bridgeerr.ErrTypeAlreadyRunning {
		t.Errorf("second Connect() error = %v, want AlreadyRunning", err)
	}
}

func TestClient_URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"default", nil, "ws://example.local:8080/"},
		{"path", &Config{Path: "/ws"}, "ws://example.local:8080/ws"},
		{"tls", &Config{TLS: true, Path: "/secure"}, "wss://example.local:8080/secure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil, nil, tt.cfg)
			if got := c.URL("example.local", 8080); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}
