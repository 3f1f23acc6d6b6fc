package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrSendQueueFull is returned by Send when the connection's writer is
// backed up.
var ErrSendQueueFull = errors.New("send queue full")

// EventSink receives transport events on the polling goroutine.
type EventSink interface {
	OnConnect(c *Conn)
	OnFrame(c *Conn, msgType int, payload []byte)
	OnClose(c *Conn)
	OnError(c *Conn, err error)
	OnHTTPRequest(req *HTTPRequest)
}

// Options configures a Manager.
type Options struct {
	// Role labels metrics and logs ("server" or "client").
	Role string
	// Path restricts WebSocket upgrades to one path. Empty accepts any path.
	Path string
	// MetricsPath, when set, serves Prometheus metrics on the listener.
	MetricsPath string
	// AllowedOrigins restricts the Origin header of upgrades. Empty allows all.
	AllowedOrigins []string
	// SendQueue is the per-connection outbound queue length.
	SendQueue int
	// EventQueue is the length of the queue drained by Poll.
	EventQueue int
	// ReplyTimeout bounds how long a plain HTTP request waits for Respond.
	ReplyTimeout time.Duration
	// HandshakeTimeout bounds upgrades and dials.
	HandshakeTimeout time.Duration
	// TLSClientConfig is used by Dial for wss URLs.
	TLSClientConfig *tls.Config
}

func (o *Options) setDefaults() {
	if o.Role == "" {
		o.Role = "server"
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.EventQueue <= 0 {
		o.EventQueue = 1024
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// CheckMetricsPath reports whether metricsPath can be served next to
// WebSocket upgrades on wsPath. An empty metricsPath is valid and disables
// the route.
func CheckMetricsPath(metricsPath, wsPath string) error {
	switch {
	case metricsPath == "":
		return nil
	case strings.TrimSpace(metricsPath) != metricsPath || strings.ContainsAny(metricsPath, " \t{}"):
		return fmt.Errorf("metrics path %q must not contain spaces or braces", metricsPath)
	case !strings.HasPrefix(metricsPath, "/"):
		return fmt.Errorf("metrics path %q must start with /", metricsPath)
	case metricsPath == "/":
		return fmt.Errorf("metrics path must not be /")
	case metricsPath == wsPath:
		return fmt.Errorf("metrics path %q is also the WebSocket path", metricsPath)
	}
	return nil
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventFrame
	eventClose
	eventError
	eventHTTP
)

type event struct {
	kind    eventKind
	conn    *Conn
	msgType int
	data    []byte
	err     error
	req     *HTTPRequest
}

// Manager owns a set of WebSocket connections and, optionally, a listener.
type Manager struct {
	opts     Options
	upgrader websocket.Upgrader
	events   chan event

	mu       sync.Mutex
	conns    map[*Conn]struct{}
	listener net.Listener
	httpSrv  *http.Server

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewManager creates a manager with no listener and no connections.
func NewManager(opts Options) *Manager {
	opts.setDefaults()
	m := &Manager{
		opts:   opts,
		events: make(chan event, opts.EventQueue),
		conns:  make(map[*Conn]struct{}),
		closed: make(chan struct{}),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: opts.HandshakeTimeout,
		CheckOrigin:      m.checkOrigin,
	}
	return m
}

// Listen binds addr synchronously and starts serving in the background. A
// non-nil tlsConfig wraps the listener in TLS. Bind failures are returned as
// bridgeerr Bind errors.
func (m *Manager) Listen(addr string, tlsConfig *tls.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener != nil {
		return bridgeerr.NewAlreadyRunning(addr)
	}
	if err := CheckMetricsPath(m.opts.MetricsPath, m.opts.Path); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return bridgeerr.NewBindError(addr, err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	mux := http.NewServeMux()
	if m.opts.MetricsPath != "" {
		mux.Handle(m.opts.MetricsPath, obs.Handler())
	}
	mux.HandleFunc("/", m.handle)

	m.listener = ln
	m.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: m.opts.HandshakeTimeout,
		ErrorLog:          zap.NewStdLog(logging.Named("http")),
	}

	srv := m.httpSrv
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()

	logging.Info("Listening for connections",
		zap.String("role", m.opts.Role),
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", tlsConfig != nil),
	)
	return nil
}

// Addr returns the bound listener address, or nil if not listening.
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) && (m.opts.Path == "" || r.URL.Path == m.opts.Path) {
		m.upgrade(w, r)
		return
	}
	m.serveHTTP(w, r)
}

func (m *Manager) upgrade(w http.ResponseWriter, r *http.Request) {
	logHTTPRequestDetails(r)

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	m.attach(ws)
}

// Dial opens a client connection to url. The connect event is queued before
// Dial returns.
func (m *Manager) Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: m.opts.HandshakeTimeout,
		TLSClientConfig:  m.opts.TLSClientConfig,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake with %s failed (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := m.attach(ws)
	if c == nil {
		return nil, fmt.Errorf("dial %s: manager closed", url)
	}
	return c, nil
}

// attach registers ws, queues its connect event and starts its goroutines.
func (m *Manager) attach(ws *websocket.Conn) *Conn {
	c := newConn(ws, m.opts.SendQueue)

	m.mu.Lock()
	select {
	case <-m.closed:
		m.mu.Unlock()
		_ = ws.Close()
		return nil
	default:
	}
	m.conns[c] = struct{}{}
	m.wg.Add(2)
	m.mu.Unlock()

	obs.ActiveConnections.WithLabelValues(m.opts.Role).Inc()
	logging.LogConnection(c.id, c.remote, "connection_accepted")

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Queue connect before the reader can queue frames.
	m.emit(event{kind: eventConnect, conn: c})

	go m.readLoop(c)
	go m.writeLoop(c)
	return c
}

func (m *Manager) readLoop(c *Conn) {
	defer m.wg.Done()
	defer m.detach(c)

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.Closed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.LogConnection(c.id, c.remote, "connection_closed")
				m.emit(event{kind: eventClose, conn: c})
			} else {
				logging.Info("Connection closed or error reading frame",
					zap.String("conn_id", c.id),
					zap.String("remote_addr", c.remote),
					zap.Error(err),
				)
				m.emit(event{kind: eventError, conn: c, err: err})
			}
			return
		}

		obs.FramesTotal.WithLabelValues("in").Inc()
		logging.LogWebSocketMessage(c.id, "received", msgType, data)
		m.emit(event{kind: eventFrame, conn: c, msgType: msgType, data: data})
	}
}

func (m *Manager) writeLoop(c *Conn) {
	defer m.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(msg.msgType, msg.data); err != nil {
				logging.Debug("Write failed, closing connection",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
				_ = c.ws.Close()
				return
			}
			obs.FramesTotal.WithLabelValues("out").Inc()
			logging.LogWebSocketMessage(c.id, "sent", msg.msgType, msg.data)

		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.ws.Close()
				return
			}

		case <-c.done:
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			_ = c.ws.Close()
			return
		}
	}
}

func (m *Manager) detach(c *Conn) {
	c.shutdown()
	m.mu.Lock()
	_, ok := m.conns[c]
	delete(m.conns, c)
	m.mu.Unlock()
	if ok {
		obs.ActiveConnections.WithLabelValues(m.opts.Role).Dec()
	}
}

// emit queues ev for Poll. It returns false once the manager is closed.
func (m *Manager) emit(ev event) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.closed:
		return false
	}
}

// Send queues payload on c's writer without blocking.
func (m *Manager) Send(c *Conn, msgType int, payload []byte) error {
	if c.Closed() {
		return bridgeerr.NewNotConnected(c.id, "connection closed")
	}
	select {
	case c.send <- outbound{msgType: msgType, data: payload}:
		return nil
	default:
		return fmt.Errorf("send to %s: %w", c.id, ErrSendQueueFull)
	}
}

// CloseConn starts a graceful close of c. The terminal event is delivered
// through Poll like any peer-initiated close.
func (m *Manager) CloseConn(c *Conn) {
	c.shutdown()
}

// Poll waits up to timeout for the first event, then dispatches every event
// already queued. It returns the number of events dispatched.
func (m *Manager) Poll(timeout time.Duration, sink EventSink) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var ev event
	select {
	case ev = <-m.events:
	case <-timer.C:
		return 0
	case <-m.closed:
		return 0
	}

	m.dispatch(ev, sink)
	n := 1
	for n < cap(m.events) {
		select {
		case ev = <-m.events:
			m.dispatch(ev, sink)
			n++
		default:
			return n
		}
	}
	return n
}

func (m *Manager) dispatch(ev event, sink EventSink) {
	switch ev.kind {
	case eventConnect:
		sink.OnConnect(ev.conn)
	case eventFrame:
		sink.OnFrame(ev.conn, ev.msgType, ev.data)
	case eventClose:
		sink.OnClose(ev.conn)
	case eventError:
		sink.OnError(ev.conn, ev.err)
	case eventHTTP:
		sink.OnHTTPRequest(ev.req)
	}
}

// Len returns the number of open connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close stops the listener, closes every connection and waits for the
// manager's goroutines. Events still queued are discarded.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		close(m.closed)
		conns := make([]*Conn, 0, len(m.conns))
		for c := range m.conns {
			conns = append(conns, c)
		}
		srv, ln := m.httpSrv, m.listener
		m.mu.Unlock()

		if srv != nil {
			// Close also closes ln; ErrServerClosed from Serve is expected.
			err = multierr.Append(err, srv.Close())
		} else if ln != nil {
			err = multierr.Append(err, ln.Close())
		}

		for _, c := range conns {
			logging.Debug("Closing active connection",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", c.remote),
			)
			c.shutdown()
			if cerr := c.ws.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}

		m.wg.Wait()
		logging.Debug("Transport closed", zap.String("role", m.opts.Role))
	})
	return err
}

func (m *Manager) checkOrigin(r *http.Request) bool {
	if len(m.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range m.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn("Rejected WebSocket origin",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("origin", origin),
	)
	return false
}
