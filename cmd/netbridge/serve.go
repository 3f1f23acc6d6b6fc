package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/netbridge/internal/config"
	"github.com/muurk/netbridge/internal/discovery"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/server"
	"github.com/muurk/netbridge/internal/transport"
	"github.com/muurk/netbridge/internal/ui"
	"github.com/muurk/netbridge/internal/version"
)

// Serve command flags
var (
	serveHost        string
	servePort        int
	servePath        string
	certPath         string
	keyPath          string
	metricsPath      string
	replyTimeout     time.Duration
	allowedOrigins   []string
	serveEcho        bool
	servePublishName string
	servePublishType string
)

// serverObject is the host object receiving server-wide events.
const serverObject = "server"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a WebSocket server",
	Long: `Start a WebSocket server and deliver its events to the host.

Every accepted connection, received frame and close is printed. Plain HTTP
requests are answered with a JSON status document. With --echo, frames are
sent back to the connection they came from. With --publish, the server is
also advertised over mDNS under the given name.`,
	Example: `  # Plain ws:// on the configured port
  netbridge serve

  # Echo server on port 9000 with the live monitor
  netbridge serve --port 9000 --echo --tui

  # TLS, advertised as "Studio"
  netbridge serve --cert cert.pem --key key.pem --publish Studio`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (empty = all interfaces)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Listen port (0 = pick one)")
	serveCmd.Flags().StringVar(&servePath, "path", "", "Only upgrade requests for this path (empty = any)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().StringVar(&metricsPath, "metrics-path", "/metrics", "Serve Prometheus metrics on this path (empty = disabled)")
	serveCmd.Flags().DurationVar(&replyTimeout, "reply-timeout", 30*time.Second, "How long an HTTP request waits for the host's reply")
	serveCmd.Flags().StringSliceVar(&allowedOrigins, "origin", nil, "Accepted Origin header (repeatable, default any)")
	serveCmd.Flags().BoolVar(&serveEcho, "echo", false, "Send every frame back to its connection")
	serveCmd.Flags().StringVar(&servePublishName, "publish", "", "Advertise the server over mDNS under this name")
	serveCmd.Flags().StringVar(&servePublishType, "type", "", "Service type for --publish (default from config)")
	addBackendFlag(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	sc := cfg.Server
	srvCfg := &server.Config{
		Host:           changed(cmd, "host", serveHost, sc.Host),
		Port:           changed(cmd, "port", servePort, sc.Port),
		Path:           changed(cmd, "path", servePath, sc.Path),
		CertPath:       changed(cmd, "cert", certPath, sc.Cert),
		KeyPath:        changed(cmd, "key", keyPath, sc.Key),
		MetricsPath:    changed(cmd, "metrics-path", metricsPath, sc.MetricsPath),
		ReplyTimeout:   changed(cmd, "reply-timeout", replyTimeout, config.Duration(sc.ReplyTimeout, replyTimeout)),
		AllowedOrigins: allowedOrigins,
		Granularity:    granularity,
	}

	// Validate: Either both cert and key are provided, or neither
	if (srvCfg.CertPath == "") != (srvCfg.KeyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither")
	}

	scheme := "ws"
	if srvCfg.CertPath != "" {
		scheme = "wss"
	}

	var srv *server.Server
	var pub *discovery.Publisher

	spec := hostSpec{
		title:   "WebSocket Server",
		command: "netbridge serve",
		params: map[string]string{
			"Listen": scheme + "://" + srvCfg.Addr() + srvCfg.Path,
			"Echo":   strconv.FormatBool(serveEcho),
		},
		status: "starting",
		handler: func(ev ui.Event) error {
			return handleServerEvent(srv, ev)
		},
		troubleshooting: []string{
			"Check that no other process is listening on the port (try --port 0)",
			"Ports below 1024 need elevated privileges",
			"Verify the --cert and --key files are readable PEM",
		},
		start: func(bridge *host.Bridge) (*session, error) {
			var err error
			srv, err = server.New(bridge, serverObject, srvCfg)
			if err != nil {
				return nil, err
			}
			if err := srv.Start(); err != nil {
				return nil, err
			}

			if servePublishName != "" {
				pub, err = publishServer(cmd, srv, srvCfg.Path)
				if err != nil {
					_ = srv.Stop()
					return nil, err
				}
			}

			return &session{
				status: listenStatus(srv),
				stop: func() {
					if pub != nil {
						if err := pub.Close(); err != nil {
							logging.Warn("Errors while withdrawing advertisement", zap.Error(err))
						}
					}
					if err := srv.Stop(); err != nil {
						logging.Warn("Errors while stopping server", zap.Error(err))
					}
				},
			}, nil
		},
	}
	if srvCfg.MetricsPath != "" {
		spec.params["Metrics"] = srvCfg.MetricsPath
	}

	return runHost(spec)
}

// listenStatus reports the address srv is bound to, which differs from the
// configured one when the port is 0.
func listenStatus(srv *server.Server) string {
	addr := srv.Addr()
	if addr == nil {
		return "not listening"
	}
	return "listening on " + addr.String()
}

// handleServerEvent is the serve command's host logic.
func handleServerEvent(srv *server.Server, ev ui.Event) error {
	switch ev.Name {
	case host.FrameReceived:
		if !serveEcho {
			return nil
		}
		conn, ok := ev.Arg(0).(*transport.Connection)
		if !ok {
			return nil
		}
		switch payload := ev.Arg(1).(type) {
		case string:
			return srv.Send(conn, payload)
		case []byte:
			return srv.SendBinary(conn, payload)
		}

	case host.HTTPRequestReceived:
		req, ok := ev.Arg(0).(*server.PendingRequest)
		if !ok {
			return nil
		}
		body, err := json.Marshal(map[string]interface{}{
			"service":     "netbridge",
			"version":     version.Version,
			"connections": srv.ActiveConnections(),
			"path":        req.Path,
		})
		if err != nil {
			return err
		}
		header := http.Header{"Content-Type": []string{"application/json"}}
		return srv.Reply(req, http.StatusOK, header, append(body, '\n'))
	}
	return nil
}

// publishServer advertises srv's actual port.
func publishServer(cmd *cobra.Command, srv *server.Server, path string) (*discovery.Publisher, error) {
	backend, err := selectedBackend(cmd)
	if err != nil {
		return nil, err
	}

	port := 0
	if tcp, ok := srv.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	dc := cfg.Discovery
	return discovery.NewPublisher(backend, discovery.PublisherConfig{
		Name:         servePublishName,
		Type:         changed(cmd, "type", servePublishType, dc.Type),
		Domain:       dc.Domain,
		Port:         port,
		Text:         []string{"path=" + path, "version=" + version.Version},
		Granularity:  granularity,
		ProbeTimeout: config.Duration(dc.ProbeTimeout, 0),
		OnStateChange: func(state discovery.State, name string) {
			logging.Info("Advertisement state",
				zap.String("name", name),
				zap.String("state", state.String()),
			)
		},
	})
}
