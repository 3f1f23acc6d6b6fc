// Netbridge runs WebSocket and mDNS endpoints against a terminal host.
//
// Every endpoint delivers its events through one serialized bridge into
// either a line-oriented console or, with --tui, a full-screen monitor.
//
// Usage:
//
//	netbridge [command] [flags]
//
// See 'netbridge --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/netbridge/internal/config"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Global flags
var (
	configPath  string
	logLevel    string
	granularity time.Duration
	useTUI      bool

	// cfg is loaded before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "netbridge",
	Short: "WebSocket and mDNS endpoints for a single-threaded host",
	Long: `Run WebSocket servers and clients, publish services over mDNS and browse
for them. Every event is delivered, one at a time, to a terminal host that
prints it or shows it in a live monitor (--tui).

Defaults come from the configuration file (see 'netbridge config path');
command-line flags override it.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.LogLevel
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		if err := logging.Initialize(level); err != nil {
			return err
		}

		if !cmd.Flags().Changed("granularity") {
			granularity = config.Duration(cfg.Granularity, granularity)
		}
		return nil
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the OS config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides NETBRIDGE_LOG_LEVEL")
	rootCmd.PersistentFlags().DurationVar(&granularity, "granularity", 200*time.Millisecond, "Worker poll timeout")
	rootCmd.PersistentFlags().BoolVar(&useTUI, "tui", false, "Show the live monitor instead of printing events (needs a terminal)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netbridge %s\n", version.Full())
	},
}
