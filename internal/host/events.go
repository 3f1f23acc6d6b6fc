package host

// Event names a host-visible event. The string value is what the host's
// method dispatch sees.
type Event string

const (
	ConnectionOpened     Event = "connectionOpened"
	FrameReceived        Event = "frameReceived"
	ConnectionClosed     Event = "connectionClosed"
	HTTPRequestReceived  Event = "httpRequestReceived"
	ClientConnected      Event = "clientConnected"
	ClientConnectFailed  Event = "clientConnectFailed"
	ServiceResolved      Event = "serviceResolved"
	ServiceResolveFailed Event = "serviceResolveFailed"
	ServiceRemoved       Event = "serviceRemoved"
)

// Handle is an opaque reference to a host-side object that should receive
// events. The host owns the object; the bridge never inspects the handle.
type Handle interface{}

// Invoker calls into the host execution context. Implementations are not
// required to be safe for concurrent use: the Bridge guarantees at most one
// Invoke at a time.
type Invoker interface {
	Invoke(target Handle, event Event, args ...interface{}) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(target Handle, event Event, args ...interface{}) error

// Invoke calls f.
func (f InvokerFunc) Invoke(target Handle, event Event, args ...interface{}) error {
	return f(target, event, args...)
}

// Deliverer is what endpoints and sessions need from the bridge.
type Deliverer interface {
	Deliver(target Handle, event Event, args ...interface{}) error
}
