package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/netbridge/internal/config"
	"github.com/muurk/netbridge/internal/discovery"
	"github.com/muurk/netbridge/internal/ui"
	"github.com/muurk/netbridge/internal/version"
)

// Publish command flags
var (
	publishType        string
	publishText        []string
	publishMetricsAddr string
)

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().StringVar(&publishType, "type", "", "Service type (default from config)")
	publishCmd.Flags().StringArrayVar(&publishText, "txt", nil, "TXT record as key=value (repeatable)")
	publishCmd.Flags().StringVar(&publishMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	addBackendFlag(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish NAME PORT",
	Short: "Advertise a service over mDNS",
	Long: `Advertise a service over mDNS until interrupted.

If another service already uses NAME, the advertisement is renamed
("NAME #2", "NAME #3", ...) and the new name is printed. Every state change
of the advertisement is shown.`,
	Example: `  netbridge publish Studio 8080
  netbridge publish "Living Room" 443 --type _https._tcp --txt path=/ws`,
	Args: cobra.ExactArgs(2),
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", args[1])
	}

	backend, err := selectedBackend(cmd)
	if err != nil {
		return err
	}

	dc := cfg.Discovery
	pubCfg := discovery.PublisherConfig{
		Name:         args[0],
		Type:         changed(cmd, "type", publishType, dc.Type),
		Domain:       dc.Domain,
		Port:         port,
		Text:         append([]string{"version=" + version.Version}, publishText...),
		Granularity:  granularity,
		ProbeTimeout: config.Duration(dc.ProbeTimeout, 0),
	}

	printer := ui.NewPrinter(os.Stdout)
	printer.PrintHeader("mDNS Publisher", "netbridge publish", map[string]string{
		"Name":    pubCfg.Name,
		"Type":    pubCfg.Type,
		"Port":    strconv.Itoa(port),
		"Backend": backend.Name(),
	})

	// OnStateChange runs on the publisher's worker; the printer is only
	// written from there until Close returns.
	pubCfg.OnStateChange = func(state discovery.State, name string) {
		printer.Println(ui.StatusStyle.Render(state.String()) + "  " + name)
	}

	stopMetrics := serveMetrics(publishMetricsAddr)
	defer stopMetrics()

	pub, err := discovery.NewPublisher(backend, pubCfg)
	if err != nil {
		printer.PrintError("Publish failed", err, []string{
			"NAME must not be empty",
			"Try the other backend with --backend",
		})
		return errReported
	}

	waitForSignal()
	return pub.Close()
}
