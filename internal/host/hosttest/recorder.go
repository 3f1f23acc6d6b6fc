// Package hosttest provides a recording host for endpoint tests.
package hosttest

import (
	"sync"
	"testing"
	"time"

	"github.com/muurk/netbridge/internal/host"
)

// Call is one recorded invocation.
type Call struct {
	Target host.Handle
	Event  host.Event
	Args   []interface{}
}

// Recorder is a host.Invoker that remembers every call. OnCall, if set, runs
// inside the invocation and may call back into endpoints the way a real host
// would.
type Recorder struct {
	mu    sync.Mutex
	calls []Call

	OnCall func(c Call) error
}

// NewBridge returns a recorder and a bridge invoking into it.
func NewBridge() (*Recorder, *host.Bridge) {
	r := &Recorder{}
	return r, host.NewBridge(r)
}

// Invoke records the call.
func (r *Recorder) Invoke(target host.Handle, event host.Event, args ...interface{}) error {
	c := Call{Target: target, Event: event, Args: args}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	onCall := r.OnCall
	r.mu.Unlock()
	if onCall != nil {
		return onCall(c)
	}
	return nil
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Events returns the calls for one event name.
func (r *Recorder) Events(event host.Event) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many times event was invoked.
func (r *Recorder) Count(event host.Event) int {
	return len(r.Events(event))
}

// Len returns the total number of calls.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// WaitFor blocks until event has been invoked at least n times and returns
// those calls. It fails the test after timeout.
func (r *Recorder) WaitFor(t testing.TB, event host.Event, n int, timeout time.Duration) []Call {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := r.Events(event)
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s event(s), got %d", n, event, len(calls))
		}
		time.Sleep(5 * time.Millisecond)
	}
}
