package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size accepted from the peer.
	maxMessageSize = 16 << 20
)

// Message types, re-exported so endpoints need not import gorilla.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

type outbound struct {
	msgType int
	data    []byte
}

// Conn is the native connection handle. It is created by the Manager on
// accept or dial and compared by pointer identity.
type Conn struct {
	id     string
	ws     *websocket.Conn
	remote string

	send      chan outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, queue int) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		remote: ws.RemoteAddr().String(),
		send:   make(chan outbound, queue),
		done:   make(chan struct{}),
	}
}

// ID returns a unique identifier for logs and host display.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.remote
}

// Closed reports whether the connection has been shut down locally or by
// the peer.
func (c *Conn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// shutdown signals the writer to send a close frame and exit. The reader
// observes the resulting close and emits the terminal event.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
