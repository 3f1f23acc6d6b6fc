// Package transport adapts gorilla/websocket and net/http to a poll-driven
// event model.
//
// A Manager owns a listener or dialed connections. Per-connection reader and
// writer goroutines never call into endpoint code; they push events onto the
// manager's queue. The owning worker drains the queue with Poll, which
// dispatches each event to an EventSink in the order it was produced:
//
//	mgr := transport.NewManager(transport.Options{Role: "server"})
//	if err := mgr.Listen("127.0.0.1:8080", nil); err != nil {
//	    return err
//	}
//	for running {
//	    mgr.Poll(200*time.Millisecond, sink)
//	}
//	mgr.Close()
//
// Plain HTTP requests that are not WebSocket upgrades surface as
// OnHTTPRequest events carrying an HTTPRequest; the serving goroutine waits
// for Respond until the reply timeout elapses.
package transport
