// Package logging provides structured logging for netbridge.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used by the transport and discovery workers. Every worker goroutine
// logs through the same global logger, which zap synchronizes internally.
//
// # Log Levels
//
//   - Debug: frame dumps, poll cycle details, probe results
//   - Info: connections, advertisements, resolved services
//   - Warn: dropped events, transient discovery failures
//   - Error: bind failures, recovered worker panics
//
// # Configuration
//
// Initialize logging at startup. An empty level falls back to the
// NETBRIDGE_LOG_LEVEL environment variable; when that is empty too the
// logger is a no-op:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Specialized Logging
//
//	logging.LogConnection(connID, remoteAddr, "connection_opened")
//	logging.LogWebSocketMessage(connID, "received", msgType, payload)
//	logging.LogDiscovery("service_resolved", name, serviceType)
//
// Output goes to stderr so it never interleaves with the console host's
// event lines on stdout.
package logging
