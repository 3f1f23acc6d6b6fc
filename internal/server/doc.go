// Package server implements the WebSocket server endpoint.
//
// A Server binds a listener, then runs one worker goroutine that polls the
// transport and turns what it sees into host events:
//
//	connectionOpened(conn)        a client completed the WebSocket upgrade
//	frameReceived(conn, payload)  a text (string) or binary ([]byte) frame
//	connectionClosed(conn)        the connection ended; exactly once per conn
//	httpRequestReceived(request)  a plain HTTP request awaiting Reply
//
// Every event goes through the host bridge, so the host sees one event at a
// time. connectionOpened and httpRequestReceived target the object passed to
// New; per-connection events target whatever object the Connection is bound
// to (see transport.Connection.Bind).
//
// # Usage
//
//	srv, err := server.New(bridge, hostObject, &server.Config{
//	    Host: "0.0.0.0",
//	    Port: 8080,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(); err != nil {
//	    return err // bind errors surface here
//	}
//	defer srv.Close()
//
// # Lifecycle
//
// Start fails with a Bind error if the port is taken and with AlreadyRunning
// if the server is running. Stop joins the worker within about one
// granularity, closes all connections and delivers nothing afterwards; it can
// be followed by another Start. SetGranularity is safe at any time.
//
// # HTTP requests
//
// Requests that are not WebSocket upgrades are held open until the host calls
// Reply. A request nobody answers within ReplyTimeout gets 504; a request the
// host cannot accept gets 503.
//
// # TLS
//
// Setting CertPath and KeyPath serves wss:// with TLS 1.2 or newer.
package server
