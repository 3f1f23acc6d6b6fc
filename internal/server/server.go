package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/transport"
	"github.com/muurk/netbridge/internal/worker"
	"go.uber.org/zap"
)

// Config holds the server configuration
type Config struct {
	Host           string
	Port           int
	Path           string        // WebSocket upgrade path (empty = any path)
	CertPath       string        // Certificate file; enables wss:// together with KeyPath
	KeyPath        string        // Private key file
	Granularity    time.Duration // Poll timeout (0 = worker.DefaultGranularity)
	SendQueue      int           // Per-connection outbound queue length
	ReplyTimeout   time.Duration // How long a plain HTTP request waits for Reply
	MetricsPath    string        // Serve Prometheus metrics on this path (empty = disabled)
	AllowedOrigins []string      // Accepted Origin headers (empty = any)
}

// Addr returns the configured host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server is a WebSocket server endpoint. All of its events reach the host
// through the bridge it was created with.
type Server struct {
	config    *Config
	bridge    host.Deliverer
	object    host.Handle
	tlsConfig *tls.Config

	registry *Registry
	loop     *worker.Loop

	// mu guards mgr, which is replaced on every Start.
	mu  sync.Mutex
	mgr *transport.Manager
}

// New creates a stopped server. object is the host object that receives
// connectionOpened and httpRequestReceived; per-connection events go to the
// object each Connection is bound to, which starts out as object too.
func New(bridge host.Deliverer, object host.Handle, config *Config) (*Server, error) {
	if config == nil {
		config = &Config{}
	}
	if err := transport.CheckMetricsPath(config.MetricsPath, config.Path); err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if config.CertPath != "" || config.KeyPath != "" {
		var err error
		tlsConfig, err = NewTLSConfig(config.CertPath, config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	return &Server{
		config:    config,
		bridge:    bridge,
		object:    object,
		tlsConfig: tlsConfig,
		registry:  NewRegistry(),
		loop:      worker.New("server "+config.Addr(), config.Granularity),
	}, nil
}

// Start binds the listener and spawns the worker. A bind failure is returned
// synchronously and leaves the server stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mgr != nil {
		return bridgeerr.NewAlreadyRunning(s.config.Addr())
	}

	addr := s.config.Addr()
	logging.Info("Starting WebSocket server",
		zap.String("addr", addr),
		zap.String("path", s.config.Path),
		zap.Duration("granularity", s.loop.Granularity()),
		zap.Any("tls_info", GetTLSInfo(s.tlsConfig)),
	)

	mgr := transport.NewManager(transport.Options{
		Role:           "server",
		Path:           s.config.Path,
		MetricsPath:    s.config.MetricsPath,
		AllowedOrigins: s.config.AllowedOrigins,
		SendQueue:      s.config.SendQueue,
		ReplyTimeout:   s.config.ReplyTimeout,
	})
	if err := mgr.Listen(addr, s.tlsConfig); err != nil {
		return err
	}

	sink := &events{s: s}
	err := s.loop.Go(func(context.Context) {
		s.loop.Poll(func(timeout time.Duration) {
			mgr.Poll(timeout, sink)
		})
	})
	if err != nil {
		_ = mgr.Close()
		return err
	}

	s.mgr = mgr
	return nil
}

// Stop clears the running flag, joins the worker and closes the listener and
// every connection. No event is delivered after Stop returns. Stop is
// idempotent and must not be called from a host callback.
func (s *Server) Stop() error {
	s.loop.Stop()

	s.mu.Lock()
	mgr := s.mgr
	s.mgr = nil
	s.mu.Unlock()

	if mgr == nil {
		return nil
	}

	logging.Info("Shutting down server...", zap.String("addr", s.config.Addr()))
	err := mgr.Close()
	dropped := s.registry.Clear()
	logging.Info("Server stopped",
		zap.String("addr", s.config.Addr()),
		zap.Int("connections_closed", len(dropped)),
	)
	logging.Sync()
	return err
}

// Close stops the server. It is the endpoint's destructor.
func (s *Server) Close() error {
	return s.Stop()
}

// SetGranularity changes the poll timeout. It takes effect on the next cycle.
func (s *Server) SetGranularity(d time.Duration) {
	s.loop.SetGranularity(d)
}

// Granularity returns the current poll timeout.
func (s *Server) Granularity() time.Duration {
	return s.loop.Granularity()
}

// Running reports whether the worker is polling.
func (s *Server) Running() bool {
	return s.loop.Running()
}

// State returns the endpoint's lifecycle state.
func (s *Server) State() worker.State {
	return s.loop.State()
}

// Addr returns the bound listener address, or nil when stopped.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	mgr := s.mgr
	s.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Addr()
}

// Send queues a text frame for conn.
func (s *Server) Send(conn *transport.Connection, payload string) error {
	return s.send(conn, transport.TextMessage, []byte(payload))
}

// SendBinary queues a binary frame for conn.
func (s *Server) SendBinary(conn *transport.Connection, payload []byte) error {
	return s.send(conn, transport.BinaryMessage, payload)
}

func (s *Server) send(conn *transport.Connection, msgType int, payload []byte) error {
	if !s.registry.Contains(conn) {
		return bridgeerr.NewNotConnected(s.config.Addr(), "connection is not open")
	}

	s.mu.Lock()
	mgr := s.mgr
	s.mu.Unlock()
	if mgr == nil {
		return bridgeerr.NewNotConnected(s.config.Addr(), "server is stopped")
	}
	return mgr.Send(conn.Native(), msgType, payload)
}

// CloseConnection starts closing conn from the host side. The host receives
// connectionClosed for it once the close completes.
func (s *Server) CloseConnection(conn *transport.Connection) error {
	if !s.registry.Contains(conn) {
		return bridgeerr.NewNotConnected(s.config.Addr(), "connection is not open")
	}

	s.mu.Lock()
	mgr := s.mgr
	s.mu.Unlock()
	if mgr == nil {
		return bridgeerr.NewNotConnected(s.config.Addr(), "server is stopped")
	}
	mgr.CloseConn(conn.Native())
	return nil
}

// Connections returns the open connections ordered by ID.
func (s *Server) Connections() []*transport.Connection {
	return s.registry.Snapshot()
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.registry.Len()
}

// Registry exposes the server's connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// deliver hands an event to the host and logs dropped ones.
func (s *Server) deliver(target host.Handle, event host.Event, args ...interface{}) error {
	err := s.bridge.Deliver(target, event, args...)
	if err != nil {
		if bridgeerr.IsHostUnavailable(err) {
			logging.Debug("Host unavailable, dropping event", zap.String("event", string(event)))
		} else {
			logging.Warn("Host event failed",
				zap.String("event", string(event)),
				zap.Error(err),
			)
		}
	}
	return err
}
