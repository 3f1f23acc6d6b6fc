package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/netbridge/internal/client"
	"github.com/muurk/netbridge/internal/config"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/ui"
)

// Connect command flags
var (
	connectPath      string
	connectTLS       bool
	connectInsecure  bool
	connectService   string
	connectType      string
	connectSend      []string
	handshakeTimeout time.Duration
)

// clientObject is the host object receiving client events.
const clientObject = "client"

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVar(&connectPath, "path", "/", "Request path")
	connectCmd.Flags().BoolVar(&connectTLS, "tls", false, "Connect with wss://")
	connectCmd.Flags().BoolVar(&connectInsecure, "insecure", false, "Accept any server certificate (self-signed test servers)")
	connectCmd.Flags().StringVar(&connectService, "service", "", "Resolve this mDNS service instead of giving host and port")
	connectCmd.Flags().StringVar(&connectType, "type", "", "Service type for --service (default from config)")
	connectCmd.Flags().StringArrayVar(&connectSend, "send", nil, "Text frame to send once connected (repeatable)")
	connectCmd.Flags().DurationVar(&handshakeTimeout, "handshake-timeout", 10*time.Second, "Bound on dial plus upgrade")
	addBackendFlag(connectCmd)
}

var connectCmd = &cobra.Command{
	Use:   "connect [host port]",
	Short: "Connect to a WebSocket server",
	Long: `Connect to a WebSocket server and print every frame it sends.

The server is given either as host and port or, with --service, as an mDNS
instance name that is resolved first. Frames given with --send are sent as
soon as the connection opens. In console mode each line read from standard
input is sent as a text frame. The command ends when the connection closes.`,
	Example: `  netbridge connect localhost 8080 --send hello
  netbridge connect --service Studio --path /ws
  echo ping | netbridge connect 10.0.0.5 443 --tls --insecure`,
	Args: func(cmd *cobra.Command, args []string) error {
		if connectService != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	cc := cfg.Client
	cliCfg := &client.Config{
		Path:               changed(cmd, "path", connectPath, cc.Path),
		TLS:                changed(cmd, "tls", connectTLS, cc.TLS),
		InsecureSkipVerify: changed(cmd, "insecure", connectInsecure, cc.InsecureSkipVerify),
		HandshakeTimeout:   changed(cmd, "handshake-timeout", handshakeTimeout, config.Duration(cc.HandshakeTimeout, handshakeTimeout)),
		Granularity:        granularity,
	}

	hostname, port, err := connectTarget(cmd, args)
	if err != nil {
		return err
	}

	var cli *client.Client
	interactive := !(useTUI && ui.IsTerminal())

	spec := hostSpec{
		title:   "WebSocket Client",
		command: "netbridge connect",
		params:  map[string]string{},
		status:  "connecting",
		handler: func(ev ui.Event) error {
			if ev.Name != host.ClientConnected {
				return nil
			}
			for _, frame := range connectSend {
				if err := cli.Request(frame); err != nil {
					return err
				}
			}
			return nil
		},
		troubleshooting: []string{
			"Check that the server is running and reachable",
			"Use --tls for wss:// servers and --insecure for self-signed certificates",
		},
		start: func(bridge *host.Bridge) (*session, error) {
			cli = client.New(bridge, clientObject, cliCfg)
			if err := cli.Connect(hostname, port); err != nil {
				return nil, err
			}
			if interactive {
				go sendLines(cli)
			}
			return &session{done: cli.Done(), stop: cli.Disconnect}, nil
		},
	}

	// URL only needs the config, so it can be shown before connecting.
	spec.params["URL"] = client.New(nil, clientObject, cliCfg).URL(hostname, port)
	if connectService != "" {
		spec.params["Service"] = connectService
	}

	return runHost(spec)
}

// connectTarget returns the host and port from args or from resolving
// --service.
func connectTarget(cmd *cobra.Command, args []string) (string, int, error) {
	if connectService == "" {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 1 || port > 65535 {
			return "", 0, fmt.Errorf("invalid port %q", args[1])
		}
		return args[0], port, nil
	}

	backend, err := selectedBackend(cmd)
	if err != nil {
		return "", 0, err
	}
	mc, err := backend.NewClient()
	if err != nil {
		return "", 0, fmt.Errorf("failed to start %s client: %w", backend.Name(), err)
	}
	defer mc.Close()

	dc := cfg.Discovery
	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(dc.ResolveTimeout, 5*time.Second))
	defer cancel()

	entry, err := mc.Resolve(ctx, connectService, changed(cmd, "type", connectType, dc.Type), dc.Domain)
	if err != nil {
		return "", 0, err
	}
	logging.Info("Resolved service",
		zap.String("service", connectService),
		zap.String("addr", entry.HostPort()),
	)
	return entry.Address, entry.Port, nil
}

// sendLines sends each line of stdin as a text frame until EOF or the
// client stops.
func sendLines(cli *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-cli.Done():
			return
		default:
		}
		if err := cli.Request(scanner.Text()); err != nil {
			logging.Warn("Send failed", zap.Error(err))
		}
	}
}
