package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/netbridge/internal/config"
	"github.com/muurk/netbridge/internal/discovery"
	"github.com/muurk/netbridge/internal/host"
)

// Browse command flags
var (
	browseType        string
	browseDomain      string
	browseMetricsAddr string
)

// browserObject is the host object receiving browser events.
const browserObject = "browser"

func init() {
	rootCmd.AddCommand(browseCmd)

	browseCmd.Flags().StringVar(&browseType, "type", "", "Service type to browse (default from config)")
	browseCmd.Flags().StringVar(&browseDomain, "domain", "", "mDNS domain (default from config)")
	browseCmd.Flags().StringVar(&browseMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	addBackendFlag(browseCmd)
}

var browseCmd = &cobra.Command{
	Use:   "browse [NAME...]",
	Short: "Browse for mDNS services",
	Long: `Browse the network for services of one type.

Without names every service seen is resolved and reported, along with its
removal. With names only those services are tracked. Names may also come
from the configuration file's discovery.targets list.`,
	Example: `  netbridge browse
  netbridge browse Studio "Living Room" --tui
  netbridge browse --type _ipp._tcp --backend mdns`,
	RunE: runBrowse,
}

func runBrowse(cmd *cobra.Command, args []string) error {
	backend, err := selectedBackend(cmd)
	if err != nil {
		return err
	}

	dc := cfg.Discovery
	targets := args
	if len(targets) == 0 {
		targets = dc.Targets
	}

	brCfg := discovery.BrowserConfig{
		Type:           changed(cmd, "type", browseType, dc.Type),
		Domain:         changed(cmd, "domain", browseDomain, dc.Domain),
		Granularity:    granularity,
		SweepInterval:  config.Duration(dc.SweepInterval, 0),
		ResolveTimeout: config.Duration(dc.ResolveTimeout, 0),
	}
	if len(targets) > 0 {
		brCfg.Target = targets[0]
	}

	params := map[string]string{
		"Type":    brCfg.Type,
		"Backend": backend.Name(),
		"Targets": "all",
	}
	if len(targets) > 0 {
		params["Targets"] = strings.Join(targets, ", ")
	}

	return runHost(hostSpec{
		title:   "mDNS Browser",
		command: "netbridge browse",
		params:  params,
		status:  "browsing " + brCfg.Type,
		troubleshooting: []string{
			"Check that multicast traffic is allowed on this network",
			"Try the other backend with --backend",
		},
		start: func(bridge *host.Bridge) (*session, error) {
			browser := discovery.NewBrowser(backend, bridge, browserObject, brCfg)
			for _, name := range targets[min(1, len(targets)):] {
				browser.AddTarget(name)
			}
			if err := browser.Start(); err != nil {
				return nil, err
			}
			stopMetrics := serveMetrics(browseMetricsAddr)
			return &session{stop: func() {
				browser.Stop()
				stopMetrics()
			}}, nil
		},
	})
}
