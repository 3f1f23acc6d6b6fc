package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
)

// recordingSink collects events and optionally answers HTTP requests.
type recordingSink struct {
	mu       sync.Mutex
	connects []*Conn
	frames   []string
	closes   []*Conn
	errs     []error
	requests []*HTTPRequest

	respond func(req *HTTPRequest)
}

func (s *recordingSink) OnConnect(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, c)
}

func (s *recordingSink) OnFrame(c *Conn, msgType int, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(payload))
}

func (s *recordingSink) OnClose(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, c)
}

func (s *recordingSink) OnError(c *Conn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, c)
	s.errs = append(s.errs, err)
}

func (s *recordingSink) OnHTTPRequest(req *HTTPRequest) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		respond(req)
	}
}

func (s *recordingSink) snapshot() (connects, closes int, frames []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connects), len(s.closes), append([]string(nil), s.frames...)
}

// pollUntil polls m until cond holds or the deadline passes.
func pollUntil(t *testing.T, m *Manager, sink EventSink, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		m.Poll(10*time.Millisecond, sink)
	}
}

func listen(t *testing.T, opts Options) *Manager {
	t.Helper()
	m := NewManager(opts)
	if err := m.Listen("127.0.0.1:0", nil); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func wsURL(m *Manager, path string) string {
	return fmt.Sprintf("ws://%s%s", m.Addr().String(), path)
}

func TestManager_ConnectFrameClose(t *testing.T) {
	srv := listen(t, Options{Role: "server"})
	srvSink := &recordingSink{}

	cli := NewManager(Options{Role: "client"})
	defer cli.Close()
	cliSink := &recordingSink{}

	conn, err := cli.Dial(context.Background(), wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	pollUntil(t, srv, srvSink, func() bool {
		n, _, _ := srvSink.snapshot()
		return n == 1
	})

	for _, msg := range []string{"one", "two", "three"} {
		if err := cli.Send(conn, TextMessage, []byte(msg)); err != nil {
			t.Fatalf("Send(%q) error = %v", msg, err)
		}
	}

	pollUntil(t, srv, srvSink, func() bool {
		_, _, frames := srvSink.snapshot()
		return len(frames) == 3
	})
	_, _, frames := srvSink.snapshot()
	if strings.Join(frames, ",") != "one,two,three" {
		t.Errorf("frames = %v, want in order one,two,three", frames)
	}

	cli.CloseConn(conn)

	pollUntil(t, srv, srvSink, func() bool {
		_, closes, _ := srvSink.snapshot()
		return closes == 1
	})
	pollUntil(t, cli, cliSink, func() bool {
		_, closes, _ := cliSink.snapshot()
		return closes == 1
	})

	// No duplicate terminal events show up later.
	srv.Poll(50*time.Millisecond, srvSink)
	if _, closes, _ := srvSink.snapshot(); closes != 1 {
		t.Errorf("server saw %d terminal events, want 1", closes)
	}
}

func TestManager_SendAfterClose(t *testing.T) {
	srv := listen(t, Options{})
	cli := NewManager(Options{Role: "client"})
	defer cli.Close()
	cliSink := &recordingSink{}

	conn, err := cli.Dial(context.Background(), wsURL(srv, "/"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	cli.CloseConn(conn)
	pollUntil(t, cli, cliSink, func() bool {
		_, closes, _ := cliSink.snapshot()
		return closes == 1
	})

	err = cli.Send(conn, TextMessage, []byte("late"))
	if !errors.Is(err, bridgeerr.ErrNotConnected) {
		t.Errorf("Send() after close error = %v, want NotConnected", err)
	}
}

func TestManager_ListenOccupiedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer ln.Close()

	m := NewManager(Options{})
	defer m.Close()

	err = m.Listen(ln.Addr().String(), nil)
	if !bridgeerr.IsBindError(err) {
		t.Errorf("Listen() on occupied port error = %v, want bind error", err)
	}
}

func TestManager_HTTPRequest(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		respond    func(req *HTTPRequest)
		wantStatus int
		wantBody   string
	}{
		{
			name: "host replies",
			respond: func(req *HTTPRequest) {
				_ = req.Respond(Response{Status: http.StatusCreated, Body: []byte("hello " + req.Path)})
			},
			wantStatus: http.StatusCreated,
			wantBody:   "hello /greet",
		},
		{
			name:       "host never replies",
			opts:       Options{ReplyTimeout: 50 * time.Millisecond},
			wantStatus: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := listen(t, tt.opts)
			sink := &recordingSink{respond: tt.respond}

			stop := make(chan struct{})
			go func() {
				for {
					select {
					case <-stop:
						return
					default:
						srv.Poll(10*time.Millisecond, sink)
					}
				}
			}()
			defer close(stop)

			resp, err := http.Post("http://"+srv.Addr().String()+"/greet", "text/plain", strings.NewReader("body"))
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantBody != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}
		})
	}
}

func TestHTTPRequest_RespondOnce(t *testing.T) {
	req := &HTTPRequest{reply: make(chan Response, 1)}

	if err := req.Respond(Response{Status: http.StatusOK}); err != nil {
		t.Fatalf("first Respond() error = %v", err)
	}
	if err := req.Respond(Response{Status: http.StatusOK}); !errors.Is(err, ErrAlreadyReplied) {
		t.Errorf("second Respond() error = %v, want %v", err, ErrAlreadyReplied)
	}

	expired := &HTTPRequest{reply: make(chan Response, 1)}
	expired.expire()
	if err := expired.Respond(Response{}); !errors.Is(err, ErrRequestExpired) {
		t.Errorf("Respond() after expiry error = %v, want %v", err, ErrRequestExpired)
	}
}

func TestManager_CloseDiscardsEvents(t *testing.T) {
	srv := listen(t, Options{})
	cli := NewManager(Options{Role: "client"})
	defer cli.Close()

	if _, err := cli.Dial(context.Background(), wsURL(srv, "/"), nil); err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	sink := &recordingSink{}
	if n := srv.Poll(20*time.Millisecond, sink); n != 0 {
		t.Errorf("Poll() after Close dispatched %d events, want 0", n)
	}
	if srv.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", srv.Len())
	}
}

func TestManager_PathRestriction(t *testing.T) {
	srv := listen(t, Options{Path: "/ws", ReplyTimeout: 50 * time.Millisecond})
	cli := NewManager(Options{Role: "client"})
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := cli.Dial(ctx, wsURL(srv, "/other"), nil); err == nil {
		t.Error("Dial() to a non-WebSocket path should fail")
	}
	if _, err := cli.Dial(ctx, wsURL(srv, "/ws"), nil); err != nil {
		t.Errorf("Dial() to the WebSocket path error = %v", err)
	}
}

func TestManager_MetricsPathRejected(t *testing.T) {
	tests := []struct {
		name        string
		metricsPath string
		path        string
		wantErr     bool
	}{
		{"disabled", "", "", false},
		{"usual", "/metrics", "", false},
		{"subtree", "/debug/", "/ws", false},
		{"root", "/", "", true},
		{"no leading slash", "metrics", "", true},
		{"padded", " /metrics", "", true},
		{"wildcard", "/{name}", "", true},
		{"same as ws path", "/ws", "/ws", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(Options{MetricsPath: tt.metricsPath, Path: tt.path})
			defer m.Close()

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Listen() panicked: %v", r)
					}
				}()
				err = m.Listen("127.0.0.1:0", nil)
			}()

			if (err != nil) != tt.wantErr {
				t.Fatalf("Listen() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && m.Addr() != nil {
				t.Error("rejected Listen() left a listener bound")
			}
		})
	}
}
