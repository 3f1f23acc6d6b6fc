// Package client implements the single-connection WebSocket client endpoint.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/transport"
	"github.com/muurk/netbridge/internal/version"
	"github.com/muurk/netbridge/internal/worker"
	"go.uber.org/zap"
)

// Config holds client configuration
type Config struct {
	Path               string        // Request path (default "/")
	TLS                bool          // Dial wss:// instead of ws://
	InsecureSkipVerify bool          // Accept any server certificate
	Header             http.Header   // Extra handshake headers
	Granularity        time.Duration // Poll timeout (0 = worker.DefaultGranularity)
	HandshakeTimeout   time.Duration // Bound on dial plus upgrade
	SendQueue          int           // Outbound queue length
}

// Client connects to one WebSocket server at a time. Its worker dials,
// then polls the connection until it closes or Disconnect is called.
type Client struct {
	config *Config
	bridge host.Deliverer
	object host.Handle
	loop   *worker.Loop

	mu   sync.Mutex
	mgr  *transport.Manager
	conn *transport.Connection
	url  string
}

// New creates a disconnected client whose events target object.
func New(bridge host.Deliverer, object host.Handle, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	return &Client{
		config: config,
		bridge: bridge,
		object: object,
		loop:   worker.New("client", config.Granularity),
	}
}

// URL builds the WebSocket URL for hostname and port.
func (c *Client) URL(hostname string, port int) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(hostname, strconv.Itoa(port)),
		Path:   c.config.Path,
	}
	if c.config.TLS {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// Connect spawns the worker, which dials hostname:port. The outcome arrives
// as clientConnected or clientConnectFailed(reason). Connect fails only if a
// worker is already running.
func (c *Client) Connect(hostname string, port int) error {
	target := c.URL(hostname, port)

	c.mu.Lock()
	c.url = target
	c.mu.Unlock()

	logging.Info("Connecting", zap.String("url", target))
	return c.loop.Go(func(ctx context.Context) {
		c.run(ctx, target)
	})
}

func (c *Client) run(ctx context.Context, target string) {
	var tlsConfig *tls.Config
	if c.config.TLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed test servers
		}
	}

	mgr := transport.NewManager(transport.Options{
		Role:             "client",
		SendQueue:        c.config.SendQueue,
		HandshakeTimeout: c.config.HandshakeTimeout,
		TLSClientConfig:  tlsConfig,
	})
	defer func() {
		c.mu.Lock()
		c.mgr, c.conn = nil, nil
		c.mu.Unlock()
		if err := mgr.Close(); err != nil {
			logging.Debug("Error closing client transport", zap.Error(err))
		}
	}()

	header := c.config.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	if _, err := mgr.Dial(ctx, target, header); err != nil {
		if ctx.Err() != nil {
			// Disconnect cancelled the dial; the host asked for this.
			return
		}
		logging.Warn("Connect failed", zap.String("url", target), zap.Error(err))
		c.deliver(c.object, host.ClientConnectFailed, err.Error())
		return
	}

	c.mu.Lock()
	c.mgr = mgr
	c.mu.Unlock()
	c.loop.MarkRunning()

	sink := &events{c: c}
	c.loop.Poll(func(timeout time.Duration) {
		mgr.Poll(timeout, sink)
	})
}

// Request sends a text frame.
func (c *Client) Request(payload string) error {
	return c.send(transport.TextMessage, []byte(payload))
}

// RequestBinary sends a binary frame.
func (c *Client) RequestBinary(payload []byte) error {
	return c.send(transport.BinaryMessage, payload)
}

func (c *Client) send(msgType int, payload []byte) error {
	c.mu.Lock()
	mgr, conn, target := c.mgr, c.conn, c.url
	c.mu.Unlock()

	if mgr == nil || conn == nil {
		return bridgeerr.NewNotConnected(target, "client is not connected")
	}
	return mgr.Send(conn.Native(), msgType, payload)
}

// Disconnect stops the worker and closes the connection. No event is
// delivered after it returns. It is a no-op when not connected and must not
// be called from a host callback.
func (c *Client) Disconnect() {
	c.loop.Stop()
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connection returns the open connection, or nil.
func (c *Client) Connection() *transport.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// SetGranularity changes the poll timeout. It takes effect on the next cycle.
func (c *Client) SetGranularity(d time.Duration) {
	c.loop.SetGranularity(d)
}

// Granularity returns the current poll timeout.
func (c *Client) Granularity() time.Duration {
	return c.loop.Granularity()
}

// Done returns a channel closed when the current worker exits.
func (c *Client) Done() <-chan struct{} {
	return c.loop.Done()
}

func (c *Client) deliver(target host.Handle, event host.Event, args ...interface{}) {
	if err := c.bridge.Deliver(target, event, args...); err != nil {
		if bridgeerr.IsHostUnavailable(err) {
			logging.Debug("Host unavailable, dropping event", zap.String("event", string(event)))
			return
		}
		logging.Warn("Host event failed", zap.String("event", string(event)), zap.Error(err))
	}
}

// events runs on the client worker only.
type events struct {
	c *Client
}

func (e *events) OnConnect(native *transport.Conn) {
	conn := transport.NewConnection(native, e.c.object)
	e.c.mu.Lock()
	e.c.conn = conn
	e.c.mu.Unlock()

	logging.LogConnection(native.ID(), native.RemoteAddr(), "client_connected")
	e.c.deliver(e.c.object, host.ClientConnected)
}

func (e *events) OnFrame(native *transport.Conn, msgType int, payload []byte) {
	conn := e.c.Connection()
	if conn == nil || conn.Native() != native {
		return
	}
	var data interface{} = payload
	if msgType == transport.TextMessage {
		data = string(payload)
	}
	e.c.deliver(conn.Host(), host.FrameReceived, conn, data)
}

func (e *events) OnClose(native *transport.Conn) {
	e.closed(native, nil)
}

func (e *events) OnError(native *transport.Conn, err error) {
	e.closed(native, err)
}

// closed clears the slot, reports the close once and ends the worker so
// Connect may be called again.
func (e *events) closed(native *transport.Conn, cause error) {
	e.c.mu.Lock()
	conn := e.c.conn
	if conn == nil || conn.Native() != native {
		e.c.mu.Unlock()
		return
	}
	e.c.conn = nil
	e.c.mu.Unlock()

	fields := []zap.Field{zap.String("conn_id", native.ID())}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	logging.Info("Client connection closed", fields...)

	e.c.deliver(conn.Host(), host.ConnectionClosed, conn)
	e.c.loop.Finish()
}

func (e *events) OnHTTPRequest(req *transport.HTTPRequest) {
	// A client manager never listens.
	_ = req.Respond(transport.Response{Status: http.StatusNotFound})
}

func (c *Client) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("client(%s)", c.url)
}
