// Package ui provides the terminal hosts for the netbridge CLI.
//
// Endpoints deliver events through a host.Bridge into an Invoker. This
// package has two:
//
//   - Console: prints one styled line per event and calls a Handler
//   - Monitor: a Bubble Tea program whose Update loop is the host thread,
//     showing live connection and service counts plus a scrolling event log
//
// Both pass each event to the same Handler type, so a command can decide how
// to react (echo a frame, reply to an HTTP request) once and use either host.
//
// The remaining components (Header, Result, Confirm) follow a "render once"
// pattern for command banners, startup failures and prompts.
//
// # Logging Integration
//
// Logging is controlled via the NETBRIDGE_LOG_LEVEL environment variable or
// the --log-level flag. When unset, zap logging is silent so the curated
// output is displayed cleanly. With the Monitor, log output to stderr will
// disturb the screen; prefer the console host when debugging.
package ui
