package server

import (
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/transport"
	"go.uber.org/zap"
)

// events translates transport callbacks into host events. Its methods run on
// the server's worker goroutine only.
type events struct {
	s *Server
}

func (e *events) OnConnect(c *transport.Conn) {
	conn := transport.NewConnection(c, e.s.object)
	if !e.s.registry.Add(conn) {
		logging.Warn("Duplicate connect for native handle", zap.String("conn_id", c.ID()))
		return
	}
	logging.LogConnection(c.ID(), c.RemoteAddr(), "websocket_upgraded")
	_ = e.s.deliver(e.s.object, host.ConnectionOpened, conn)
}

// OnFrame delivers text frames as string and binary frames as []byte.
func (e *events) OnFrame(c *transport.Conn, msgType int, payload []byte) {
	conn, ok := e.s.registry.Find(c)
	if !ok {
		logging.Debug("Dropping frame for unknown connection", zap.String("conn_id", c.ID()))
		return
	}

	var data interface{} = payload
	if msgType == transport.TextMessage {
		data = string(payload)
	}
	_ = e.s.deliver(conn.Host(), host.FrameReceived, conn, data)
}

func (e *events) OnClose(c *transport.Conn) {
	e.closed(c, nil)
}

func (e *events) OnError(c *transport.Conn, err error) {
	e.closed(c, err)
}

// closed reports a connection's end exactly once. A close and an error for
// the same handle both land here; only the one that removes it delivers.
func (e *events) closed(c *transport.Conn, cause error) {
	conn, ok := e.s.registry.Find(c)
	if !ok || !e.s.registry.Remove(c) {
		return
	}
	if cause != nil {
		logging.Info("WebSocket connection error",
			zap.String("conn_id", c.ID()),
			zap.String("remote_addr", c.RemoteAddr()),
			zap.Error(cause),
		)
	}
	logging.LogConnection(c.ID(), c.RemoteAddr(), "websocket_closed")
	_ = e.s.deliver(conn.Host(), host.ConnectionClosed, conn)
}

func (e *events) OnHTTPRequest(req *transport.HTTPRequest) {
	e.s.handleHTTPRequest(req)
}
