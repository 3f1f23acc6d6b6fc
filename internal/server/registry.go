package server

import (
	"sort"
	"sync"

	"github.com/muurk/netbridge/internal/transport"
)

// Registry tracks the live connections of one server, keyed by native
// handle. The worker mutates it; host-side queries only read.
type Registry struct {
	mu    sync.RWMutex
	conns map[*transport.Conn]*transport.Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*transport.Conn]*transport.Connection)}
}

// Add inserts conn. It reports false if its native handle is already present.
func (r *Registry) Add(conn *transport.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.Native()]; ok {
		return false
	}
	r.conns[conn.Native()] = conn
	return true
}

// Remove deletes the connection with the given native handle. It reports
// whether anything was removed, so a close followed by an error for the same
// handle is only acted on once.
func (r *Registry) Remove(native *transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[native]; !ok {
		return false
	}
	delete(r.conns, native)
	return true
}

// Find returns the connection for a native handle.
func (r *Registry) Find(native *transport.Conn) (*transport.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[native]
	return conn, ok
}

// Contains reports whether conn is still registered.
func (r *Registry) Contains(conn *transport.Connection) bool {
	if conn == nil {
		return false
	}
	found, ok := r.Find(conn.Native())
	return ok && found == conn
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns the registered connections ordered by ID.
func (r *Registry) Snapshot() []*transport.Connection {
	r.mu.RLock()
	out := make([]*transport.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Clear removes every connection and returns what was removed.
func (r *Registry) Clear() []*transport.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*transport.Connection, 0, len(r.conns))
	for native, conn := range r.conns {
		out = append(out, conn)
		delete(r.conns, native)
	}
	return out
}
