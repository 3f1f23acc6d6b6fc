package transport

import (
	"sync"

	"github.com/muurk/netbridge/internal/host"
)

// Connection pairs a native handle with the host object that receives its
// events. Two Connections are equal when they wrap the same native handle.
type Connection struct {
	native *Conn

	mu     sync.RWMutex
	object host.Handle
}

// NewConnection wraps native, initially bound to object.
func NewConnection(native *Conn, object host.Handle) *Connection {
	return &Connection{native: native, object: object}
}

// Native returns the underlying handle.
func (c *Connection) Native() *Conn {
	return c.native
}

// ID returns the native handle's identifier.
func (c *Connection) ID() string {
	return c.native.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.native.remote
}

// Host returns the host object currently bound to this connection.
func (c *Connection) Host() host.Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.object
}

// Bind rebinds the connection to a different host object. Events delivered
// after Bind returns target the new object.
func (c *Connection) Bind(object host.Handle) {
	c.mu.Lock()
	c.object = object
	c.mu.Unlock()
}

func (c *Connection) String() string {
	return c.native.id + "@" + c.native.remote
}
